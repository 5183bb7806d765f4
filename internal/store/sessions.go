package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// IdentitySession is a live sign-in of a local account.
type IdentitySession struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Email     string    `db:"email"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

type SessionStore struct {
	db *sqlx.DB
}

func NewSessionStore(db *sqlx.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) q(query string) string { return s.db.Rebind(query) }

// Create opens a session for userID that expires after ttl.
func (s *SessionStore) Create(ctx context.Context, userID string, ttl time.Duration) (*IdentitySession, error) {
	now := time.Now().UTC()
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO identity_sessions (id, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`), id, userID, now, now.Add(ttl))
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Get returns the session joined with its account email, or ErrNotFound.
func (s *SessionStore) Get(ctx context.Context, id string) (*IdentitySession, error) {
	var sess IdentitySession
	err := s.db.GetContext(ctx, &sess, s.q(`
		SELECT s.id, s.user_id, u.email, s.created_at, s.expires_at
		FROM identity_sessions s JOIN users u ON u.id = s.user_id
		WHERE s.id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListActive returns every session that has not expired as of now.
func (s *SessionStore) ListActive(ctx context.Context, now time.Time) ([]*IdentitySession, error) {
	var sessions []*IdentitySession
	err := s.db.SelectContext(ctx, &sessions, s.q(`
		SELECT s.id, s.user_id, u.email, s.created_at, s.expires_at
		FROM identity_sessions s JOIN users u ON u.id = s.user_id
		WHERE s.expires_at > ?
		ORDER BY s.created_at ASC
	`), now.UTC())
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListExpired returns every session whose expiry is at or before now.
func (s *SessionStore) ListExpired(ctx context.Context, now time.Time) ([]*IdentitySession, error) {
	var sessions []*IdentitySession
	err := s.db.SelectContext(ctx, &sessions, s.q(`
		SELECT s.id, s.user_id, u.email, s.created_at, s.expires_at
		FROM identity_sessions s JOIN users u ON u.id = s.user_id
		WHERE s.expires_at <= ?
	`), now.UTC())
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// Delete removes a session. Returns ErrNotFound if it does not exist.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM identity_sessions WHERE id = ?`), id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByUser removes every session of userID and returns their IDs.
func (s *SessionStore) DeleteByUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, s.q(`SELECT id FROM identity_sessions WHERE user_id = ?`), userID); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM identity_sessions WHERE user_id = ?`), userID); err != nil {
		return nil, err
	}
	return ids, nil
}
