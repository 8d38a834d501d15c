package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ResetTokenStore holds time-limited password recovery codes. A username may
// have several live tokens at once; consuming any of them invalidates all.
type ResetTokenStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewResetTokenStore(db *sql.DB) *ResetTokenStore {
	return &ResetTokenStore{db: db, now: time.Now}
}

// SetClock replaces the store's notion of now. Used for fixed-clock tests.
func (s *ResetTokenStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *ResetTokenStore) sweep() error {
	if _, err := s.db.Exec(`DELETE FROM reset_password_token WHERE expires_at <= ?`, s.now().Unix()); err != nil {
		return fmt.Errorf("sweep expired reset tokens: %w", err)
	}
	return nil
}

// IsValid sweeps expired rows, then reports whether exactly one (token,
// username) row remains.
func (s *ResetTokenStore) IsValid(token, username string) (bool, error) {
	if err := s.sweep(); err != nil {
		return false, err
	}
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM reset_password_token WHERE token = ? AND username = ?`,
		token, username,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count reset tokens: %w", err)
	}
	return count == 1, nil
}

// Insert always adds a row; there is no uniqueness constraint across tokens.
func (s *ResetTokenStore) Insert(token, username string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO reset_password_token (token, username, expires_at) VALUES (?, ?, ?)`,
		token, username, expiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert reset token: %w", err)
	}
	return nil
}

// InvalidateAll deletes every token for the username. This is the only
// deletion primitive: one successful reset burns every outstanding token for
// that user, not just the one consumed.
func (s *ResetTokenStore) InvalidateAll(username string) error {
	if _, err := s.db.Exec(`DELETE FROM reset_password_token WHERE username = ?`, username); err != nil {
		return fmt.Errorf("invalidate reset tokens: %w", err)
	}
	return nil
}
