package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ecomstack/gateway-api/internal/models"
)

const insertRefreshTokenQuery = `INSERT INTO refresh_tokens (id, user_id, token, device_info, user_agent, ip_address, issued_at, expires_at, last_login_at, revoked, revoked_at) VALUES (:id, :user_id, :token, :device_info, :user_agent, :ip_address, :issued_at, :expires_at, :last_login_at, :revoked, :revoked_at)`

// RefreshTokenRepository persists opaque refresh tokens. A token string maps
// to at most one active record. Rotation (Replace) and bulk revocation
// (RevokeAllForUser) both run in a transaction that first locks the owning
// user row, so the two serialize: a bulk revoke either lands before the swap,
// making the swap fail on the already-revoked token, or after it, sweeping up
// the replacement. Neither interleaving leaves a revoked user with a usable
// token.
type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository creates a new instance of RefreshTokenRepository.
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Save persists a refresh token entry.
func (r *RefreshTokenRepository) Save(ctx context.Context, token *models.RefreshToken) error {
	fillTokenDefaults(token)
	if _, err := r.db.NamedExecContext(ctx, insertRefreshTokenQuery, token); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// FindActiveToken returns the non-revoked record for a token string.
func (r *RefreshTokenRepository) FindActiveToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token, device_info, user_agent, ip_address, issued_at, expires_at, last_login_at, revoked, revoked_at FROM refresh_tokens WHERE token = $1 AND revoked = FALSE LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active refresh token: %w", err)
	}
	return &rt, nil
}

// Revoke marks a single token as revoked.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// Replace atomically revokes the used token and inserts its successor. Both
// statements run under the user-row lock shared with RevokeAllForUser. If the
// old token was already revoked when the lock is acquired, nothing is
// inserted and sql.ErrNoRows is returned.
func (r *RefreshTokenRepository) Replace(ctx context.Context, oldID, userID string, revokedAt time.Time, next *models.RefreshToken) error {
	fillTokenDefaults(next)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := lockUserRow(ctx, tx, userID); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1 AND revoked = FALSE`, oldID, revokedAt)
	if err != nil {
		return fmt.Errorf("revoke rotated token: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.NamedExecContext(ctx, insertRefreshTokenQuery, next); err != nil {
		return fmt.Errorf("insert replacement token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotation: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every active token for a user. The update runs
// under the user-row lock, so an in-flight rotation commits its replacement
// before this statement scans, or fails outright.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin bulk revoke: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := lockUserRow(ctx, tx, userID); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`, userID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	affected, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk revoke: %w", err)
	}
	return affected, nil
}

// DeleteExpiredBefore removes records whose expiry lies before the cutoff.
// Operational hygiene only; active-token validity never consults expires_at.
func (r *RefreshTokenRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func lockUserRow(ctx context.Context, tx *sqlx.Tx, userID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID); err != nil {
		return fmt.Errorf("lock user row: %w", err)
	}
	return nil
}

func fillTokenDefaults(token *models.RefreshToken) {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.IssuedAt.IsZero() {
		token.IssuedAt = time.Now().UTC()
	}
}
