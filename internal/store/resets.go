package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrResetExpired is returned when a reset token is past its expiry or already used.
var ErrResetExpired = errors.New("password reset expired")

// PasswordReset is a pending password reset request. Only the token hash is stored.
type PasswordReset struct {
	ID        string       `db:"id"`
	UserID    string       `db:"user_id"`
	TokenHash string       `db:"token_hash"`
	ExpiresAt time.Time    `db:"expires_at"`
	UsedAt    sql.NullTime `db:"used_at"`
	CreatedAt time.Time    `db:"created_at"`
}

type ResetStore struct {
	db *sqlx.DB
}

func NewResetStore(db *sqlx.DB) *ResetStore {
	return &ResetStore{db: db}
}

func (s *ResetStore) q(query string) string { return s.db.Rebind(query) }

// Create records a reset for userID identified by tokenHash.
func (s *ResetStore) Create(ctx context.Context, userID, tokenHash string, ttl time.Duration) (*PasswordReset, error) {
	now := time.Now().UTC()
	r := &PasswordReset{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO password_resets (id, user_id, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), r.ID, r.UserID, r.TokenHash, r.ExpiresAt, r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Consume marks the reset identified by tokenHash as used and returns it.
// Returns ErrNotFound for unknown tokens and ErrResetExpired for expired or
// already-used ones.
func (s *ResetStore) Consume(ctx context.Context, tokenHash string) (*PasswordReset, error) {
	var r PasswordReset
	err := s.db.GetContext(ctx, &r, s.q(`SELECT * FROM password_resets WHERE token_hash = ?`), tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if r.UsedAt.Valid || !r.ExpiresAt.After(now) {
		return nil, ErrResetExpired
	}

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE password_resets SET used_at = ? WHERE id = ? AND used_at IS NULL`), now, r.ID)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrResetExpired
	}
	r.UsedAt = sql.NullTime{Time: now, Valid: true}
	return &r, nil
}
