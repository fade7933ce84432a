package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ecomstack/gateway-api/internal/models"
	appErrors "github.com/ecomstack/gateway-api/pkg/errors"
	"github.com/ecomstack/gateway-api/pkg/keyedmutex"
)

type mockUserRepo struct {
	users            map[string]*models.User
	lastLoginUpdated bool
	passwordUpdated  bool
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	m.passwordUpdated = true
	if u, ok := m.users[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

// mockTokenStore mirrors the repository contract: Replace and
// RevokeAllForUser serialize on one store lock, the way the real
// implementations serialize on the user row.
type mockTokenStore struct {
	mu          sync.Mutex
	records     map[string]*models.RefreshToken
	replaceHook func()
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{records: make(map[string]*models.RefreshToken)}
}

func (m *mockTokenStore) Save(ctx context.Context, token *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveLocked(token)
	return nil
}

func (m *mockTokenStore) saveLocked(token *models.RefreshToken) {
	if token.ID == "" {
		token.ID = token.Token
	}
	m.records[token.Token] = token
}

func (m *mockTokenStore) FindActiveToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.records[token]
	if !ok || rt.Revoked {
		return nil, sql.ErrNoRows
	}
	copied := *rt
	return &copied, nil
}

func (m *mockTokenStore) Revoke(ctx context.Context, id string, revokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rt := range m.records {
		if rt.ID == id {
			rt.Revoked = true
			rt.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockTokenStore) Replace(ctx context.Context, oldID, userID string, revokedAt time.Time, next *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var old *models.RefreshToken
	for _, rt := range m.records {
		if rt.ID == oldID {
			old = rt
		}
	}
	if old == nil || old.Revoked {
		return sql.ErrNoRows
	}
	old.Revoked = true
	old.RevokedAt = &revokedAt

	if m.replaceHook != nil {
		m.replaceHook()
	}

	m.saveLocked(next)
	return nil
}

func (m *mockTokenStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rt := range m.records {
		if rt.UserID == userID && !rt.Revoked {
			rt.Revoked = true
			n++
		}
	}
	return n, nil
}

func (m *mockTokenStore) record(token string) *models.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[token]
}

type mockCache struct {
	entries map[string][]byte
	deletes []string
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string][]byte)}
}

func (m *mockCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *mockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.deletes = append(m.deletes, key)
	delete(m.entries, key)
	return nil
}

func newTestAuthService(users *mockUserRepo, tokens *mockTokenStore, cache *mockCache) *AuthService {
	tokenSvc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "gateway-test", Expiration: time.Hour})
	return NewAuthService(users, tokens, cache, tokenSvc, keyedmutex.New(), validator.New(), zap.NewNop(), AuthConfig{
		RefreshTokenExpiry: 30 * 24 * time.Hour,
		AccessTokenExpiry:  time.Hour,
		IdentityCacheTTL:   time.Minute,
	})
}

func activeUser(t *testing.T, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{ID: "u1", Username: "alice", Email: "alice@example.com", PasswordHash: string(hash), Role: models.RoleCustomer, Active: true}
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	users := &mockUserRepo{users: map[string]*models.User{"u1": activeUser(t, "password")}}
	tokens := newMockTokenStore()
	svc := newTestAuthService(users, tokens, newMockCache())

	res, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "password", DeviceInfo: "web", IP: "10.0.0.1", UserAgent: "test-agent"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, models.TokenTypeBearer, res.TokenType)
	assert.Equal(t, int64(3600), res.ExpiresIn)
	assert.True(t, users.lastLoginUpdated)

	stored := tokens.records[res.RefreshToken]
	require.NotNil(t, stored)
	assert.Equal(t, "web", stored.DeviceInfo)
	assert.Equal(t, "10.0.0.1", stored.IPAddress)
	assert.Equal(t, "test-agent", stored.UserAgent)
}

func TestAuthServiceLoginBadPassword(t *testing.T) {
	users := &mockUserRepo{users: map[string]*models.User{"u1": activeUser(t, "password")}}
	svc := newTestAuthService(users, newMockTokenStore(), newMockCache())

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "nope"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginInactive(t *testing.T) {
	user := activeUser(t, "password")
	user.Active = false
	users := &mockUserRepo{users: map[string]*models.User{"u1": user}}
	svc := newTestAuthService(users, newMockTokenStore(), newMockCache())

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshRotation(t *testing.T) {
	users := &mockUserRepo{users: map[string]*models.User{"u1": activeUser(t, "password")}}
	tokens := newMockTokenStore()
	svc := newTestAuthService(users, tokens, newMockCache())

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "password"})
	require.NoError(t, err)

	res, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, login.RefreshToken, res.RefreshToken)
	assert.True(t, tokens.records[login.RefreshToken].Revoked)

	// Replaying the rotated token must fail.
	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenRevoked.Code, appErrors.FromError(err).Code)

	// While the new token keeps working.
	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: res.RefreshToken})
	require.NoError(t, err)
}

func TestAuthServiceRefreshIgnoresExpiry(t *testing.T) {
	users := &mockUserRepo{users: map[string]*models.User{"u1": activeUser(t, "password")}}
	tokens := newMockTokenStore()
	svc := newTestAuthService(users, tokens, newMockCache())

	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, tokens.Save(context.Background(), &models.RefreshToken{
		ID: "rt1", UserID: "u1", Token: "stale", IssuedAt: past.Add(-time.Hour), ExpiresAt: past,
	}))

	// Validity is governed by the revoked flag alone.
	_, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: "stale"})
	require.NoError(t, err)
}

func TestAuthServiceLogoutAllKillsRefresh(t *testing.T) {
	users := &mockUserRepo{users: map[string]*models.User{"u1": activeUser(t, "password")}}
	tokens := newMockTokenStore()
	cache := newMockCache()
	svc := newTestAuthService(users, tokens, cache)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "password"})
	require.NoError(t, err)

	require.NoError(t, svc.LogoutAll(context.Background(), "u1"))
	assert.Contains(t, cache.deletes, "identity:u1")

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenRevoked.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLogoutWrongOwner(t *testing.T) {
	users := &mockUserRepo{users: map[string]*models.User{"u1": activeUser(t, "password")}}
	tokens := newMockTokenStore()
	svc := newTestAuthService(users, tokens, newMockCache())

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "password"})
	require.NoError(t, err)

	err = svc.Logout(context.Background(), login.RefreshToken, "somebody-else")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceChangePasswordRevokesSessions(t *testing.T) {
	users := &mockUserRepo{users: map[string]*models.User{"u1": activeUser(t, "oldpassword")}}
	tokens := newMockTokenStore()
	cache := newMockCache()
	svc := newTestAuthService(users, tokens, cache)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "oldpassword"})
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "oldpassword", NewPassword: "brandnewpass"})
	require.NoError(t, err)
	assert.True(t, users.passwordUpdated)
	assert.True(t, tokens.records[login.RefreshToken].Revoked)
	assert.Contains(t, cache.deletes, "identity:u1")
}

func TestAuthServiceRevokeAllDuringRotation(t *testing.T) {
	users := &mockUserRepo{users: map[string]*models.User{"u1": activeUser(t, "password")}}
	tokens := newMockTokenStore()
	svc := newTestAuthService(users, tokens, newMockCache())

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "password"})
	require.NoError(t, err)

	// Fire a revoke-all while the rotation holds the store lock between
	// revoking the old token and inserting its replacement. It must block
	// until the swap commits and then sweep up the replacement too.
	logoutDone := make(chan error, 1)
	tokens.replaceHook = func() {
		go func() { logoutDone <- svc.LogoutAll(context.Background(), "u1") }()
		time.Sleep(20 * time.Millisecond)
	}

	res, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	require.NoError(t, <-logoutDone)

	stored := tokens.record(res.RefreshToken)
	require.NotNil(t, stored)
	assert.True(t, stored.Revoked, "revoked user still holds an active refresh token")

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: res.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTokenRevoked.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRotationAfterRevokeAllYieldsNothing(t *testing.T) {
	users := &mockUserRepo{users: map[string]*models.User{"u1": activeUser(t, "password")}}
	tokens := newMockTokenStore()
	svc := newTestAuthService(users, tokens, newMockCache())

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "password"})
	require.NoError(t, err)

	stored := tokens.record(login.RefreshToken)
	require.NotNil(t, stored)

	// A bulk revocation that wins the lock first makes the swap fail with
	// nothing inserted.
	_, err = tokens.RevokeAllForUser(context.Background(), "u1")
	require.NoError(t, err)

	next := &models.RefreshToken{UserID: "u1", Token: "replacement"}
	err = tokens.Replace(context.Background(), stored.ID, "u1", time.Now().UTC(), next)
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.Nil(t, tokens.record("replacement"))
}

func TestAuthServiceRefreshUsesIdentityCache(t *testing.T) {
	users := &mockUserRepo{users: map[string]*models.User{"u1": activeUser(t, "password")}}
	tokens := newMockTokenStore()
	cache := newMockCache()
	svc := newTestAuthService(users, tokens, cache)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "password"})
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.Contains(t, cache.entries, "identity:u1")
}
