package ws

import (
	"strings"

	"go.uber.org/zap"

	"github.com/ecomstack/gateway-api/internal/models"
	"github.com/ecomstack/gateway-api/internal/service"
)

const (
	topicAdminPrefix        = "/topic/admin/"
	topicOrdersPrefix       = "/topic/orders/"
	topicNotificationPrefix = "/topic/notifications/"
	topicInventory          = "/topic/inventory"
)

// SubscriptionAuthorizer decides whether a session may subscribe to a
// destination. A denied SUBSCRIBE is dropped without an ERROR frame; the
// only trace is a log line and a metric.
type SubscriptionAuthorizer struct {
	metrics *service.MetricsService
	logger  *zap.Logger
}

func NewSubscriptionAuthorizer(metrics *service.MetricsService, logger *zap.Logger) *SubscriptionAuthorizer {
	return &SubscriptionAuthorizer{metrics: metrics, logger: logger}
}

// Authorize evaluates the destination against the session identity captured
// at handshake time.
func (a *SubscriptionAuthorizer) Authorize(claims *models.JWTClaims, destination string) bool {
	allowed := a.evaluate(claims, destination)
	a.metrics.RecordSubscriptionDecision(allowed)

	if !allowed {
		username := ""
		if claims != nil {
			username = claims.Username
		}
		a.logger.Warn("subscription denied",
			zap.String("destination", destination),
			zap.String("username", username),
		)
	}
	return allowed
}

func (a *SubscriptionAuthorizer) evaluate(claims *models.JWTClaims, destination string) bool {
	if destination == "" {
		return false
	}

	switch {
	case destination == topicInventory:
		// Stock updates are broadcast to every connected client.
		return true

	case strings.HasPrefix(destination, topicAdminPrefix):
		return claims != nil && claims.Role == models.RoleAdmin

	case strings.HasPrefix(destination, topicOrdersPrefix):
		return a.ownerMatches(claims, strings.TrimPrefix(destination, topicOrdersPrefix))

	case strings.HasPrefix(destination, topicNotificationPrefix):
		return a.ownerMatches(claims, strings.TrimPrefix(destination, topicNotificationPrefix))
	}

	// Unrecognized destinations are denied outright.
	return false
}

// ownerMatches requires an authenticated session whose username equals the
// owner segment of the destination. Nested segments are not owner topics.
func (a *SubscriptionAuthorizer) ownerMatches(claims *models.JWTClaims, owner string) bool {
	if owner == "" || strings.Contains(owner, "/") {
		return false
	}
	return claims != nil && claims.Username == owner
}
