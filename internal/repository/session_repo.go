package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trevvos-auth/internal/model"
)

const sessionColumns = `id, user_id, token_lookup, refresh_hash, expires_at, created_at`

// SessionRepository owns the sessions table: one row per outstanding refresh
// token, holding only the bcrypt digest of its secret half.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, s model.Session) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, token_lookup, refresh_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.UserID, s.TokenLookup, s.RefreshHash, s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindActiveByLookup resolves a presented refresh token's correlation id to
// its unexpired session with a single indexed read.
func (r *SessionRepository) FindActiveByLookup(ctx context.Context, lookup string, now time.Time) (model.Session, error) {
	var s model.Session
	err := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE token_lookup = $1 AND expires_at > $2`, lookup, now).
		Scan(&s.ID, &s.UserID, &s.TokenLookup, &s.RefreshHash, &s.ExpiresAt, &s.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return model.Session{}, model.ErrInvalidRefreshToken
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("find active session: %w", err)
	}
	return s, nil
}

// FindByLookup matches expired sessions as well; logout must be able to
// revoke a session whose refresh token has already lapsed.
func (r *SessionRepository) FindByLookup(ctx context.Context, lookup string) (model.Session, error) {
	var s model.Session
	err := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token_lookup = $1`, lookup).
		Scan(&s.ID, &s.UserID, &s.TokenLookup, &s.RefreshHash, &s.ExpiresAt, &s.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return model.Session{}, model.ErrInvalidRefreshToken
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("find session: %w", err)
	}
	return s, nil
}

// ListActive returns sessions whose expiry is strictly after now. Expired
// rows are excluded but never deleted here; cleanup is lazy.
func (r *SessionRepository) ListActive(ctx context.Context, now time.Time) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE expires_at > $1 ORDER BY created_at`, now)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return scanSessions(rows)
}

// ListAll returns every session, expired ones included.
func (r *SessionRepository) ListAll(ctx context.Context) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return scanSessions(rows)
}

func (r *SessionRepository) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = $1 AND expires_at > $2 ORDER BY created_at`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}
	return scanSessions(rows)
}

// Delete removes the session and reports how many rows went away. Deleting a
// non-existent id is not an error; the count lets concurrent rotations decide
// which caller actually revoked the session.
func (r *SessionRepository) Delete(ctx context.Context, id string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("delete session: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSessions(rows pgx.Rows) ([]model.Session, error) {
	defer rows.Close()

	sessions := make([]model.Session, 0)
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.TokenLookup, &s.RefreshHash, &s.ExpiresAt, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
