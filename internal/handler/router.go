package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ecomstack/gateway-api/internal/middleware"
	"github.com/ecomstack/gateway-api/internal/service"
	"github.com/ecomstack/gateway-api/pkg/config"
	"github.com/ecomstack/gateway-api/pkg/logger"
	corsmiddleware "github.com/ecomstack/gateway-api/pkg/middleware/cors"
	reqidmiddleware "github.com/ecomstack/gateway-api/pkg/middleware/requestid"
	"github.com/ecomstack/gateway-api/pkg/ratelimit"
)

// RouterDeps bundles everything the HTTP surface needs.
type RouterDeps struct {
	Config  *config.Config
	Logger  *zap.Logger
	Tokens  *service.TokenService
	Metrics *service.MetricsService
	Limiter *ratelimit.Limiter

	Auth        *AuthHandler
	MetricsHTTP *MetricsHandler
	WS          *WSHandler
}

// NewRouter assembles the gin engine: recovery, request ids, logging, CORS,
// metrics, then rate-limit admission, then the identify-never-reject
// authentication stage, then routes. Admission comes first so throttled
// clients never reach token validation.
func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(d.Logger))
	r.Use(corsmiddleware.New(d.Config.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(d.Metrics))
	r.Use(middleware.RateLimit(d.Limiter, d.Config.RateLimit, d.Metrics))
	r.Use(middleware.Authenticate(d.Tokens, d.Metrics, d.Logger))

	r.GET("/health", d.MetricsHTTP.Health)
	r.GET("/ready", d.MetricsHTTP.Health)
	r.GET("/metrics", d.MetricsHTTP.Prometheus)

	if d.WS != nil {
		r.GET(d.Config.WS.Path, d.WS.Handle)
	}

	api := r.Group(d.Config.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", d.Auth.Login)
	auth.POST("/refresh", d.Auth.Refresh)

	session := auth.Group("", middleware.RequireAuth())
	session.POST("/logout", d.Auth.Logout)
	session.POST("/logout-all", d.Auth.LogoutAll)
	session.POST("/change-password", d.Auth.ChangePassword)
	session.GET("/me", d.Auth.Me)

	return r
}
