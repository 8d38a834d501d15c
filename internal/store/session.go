package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/vodauth/internal/model"
)

// SessionStore owns the access/media/refresh token triad. Every read sweeps
// refresh-expired rows first, so expiry is evaluated lazily instead of by a
// background reaper.
type SessionStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

// SetClock replaces the store's notion of now. Used for fixed-clock tests.
func (s *SessionStore) SetClock(now func() time.Time) {
	s.now = now
}

// sweep deletes every session whose refresh horizon has passed. Idempotent;
// called at the top of every read.
func (s *SessionStore) sweep() error {
	if _, err := s.db.Exec(`DELETE FROM session WHERE refresh_expires_at <= ?`, s.now().Unix()); err != nil {
		return fmt.Errorf("sweep expired sessions: %w", err)
	}
	return nil
}

// userIDForToken resolves a token column to a user id. A token matching
// anything other than exactly one row resolves to nothing: duplicate matches
// mean colliding tokens, and picking one would authenticate the wrong user.
func (s *SessionStore) userIDForToken(query string, args ...any) (int64, bool, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return 0, false, fmt.Errorf("query session: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, false, fmt.Errorf("scan session: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, false, fmt.Errorf("iterate sessions: %w", err)
	}

	if len(ids) != 1 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

// UserIDByAccessToken returns the user owning a live access token. A session
// whose access horizon has passed but whose refresh horizon has not still
// exists, yet resolves to nothing here.
func (s *SessionStore) UserIDByAccessToken(token string) (int64, bool, error) {
	if err := s.sweep(); err != nil {
		return 0, false, err
	}
	return s.userIDForToken(
		`SELECT user_id FROM session WHERE access_token = ? AND access_expires_at >= ?`,
		token, s.now().Unix(),
	)
}

// UserIDByMediaToken resolves a media token. Media liveness is tied to the
// access expiry, not a horizon of its own.
func (s *SessionStore) UserIDByMediaToken(token string) (int64, bool, error) {
	if err := s.sweep(); err != nil {
		return 0, false, err
	}
	return s.userIDForToken(
		`SELECT user_id FROM session WHERE media_token = ? AND access_expires_at >= ?`,
		token, s.now().Unix(),
	)
}

// UserIDByRefreshToken resolves a refresh token. Any row that survived the
// sweep is refresh-valid, so no further expiry filter applies.
func (s *SessionStore) UserIDByRefreshToken(token string) (int64, bool, error) {
	if err := s.sweep(); err != nil {
		return 0, false, err
	}
	return s.userIDForToken(`SELECT user_id FROM session WHERE refresh_token = ?`, token)
}

const insertSessionSQL = `INSERT INTO session (user_id, access_token, media_token, refresh_token, access_expires_at, refresh_expires_at)
VALUES (?, ?, ?, ?, ?, ?)`

func insertSession(ex interface {
	Exec(string, ...any) (sql.Result, error)
}, sess model.Session) error {
	_, err := ex.Exec(insertSessionSQL,
		sess.UserID, sess.AccessToken, sess.MediaToken, sess.RefreshToken,
		sess.AccessExpiresAt.Unix(), sess.RefreshExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Insert adds a new session row. Users may hold several concurrent sessions.
func (s *SessionStore) Insert(sess model.Session) error {
	return insertSession(s.db, sess)
}

// DeleteByAccessToken removes the session holding the token. No-op when the
// token is unknown.
func (s *SessionStore) DeleteByAccessToken(token string) error {
	if _, err := s.db.Exec(`DELETE FROM session WHERE access_token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteAllForUser removes every session belonging to the user.
func (s *SessionStore) DeleteAllForUser(userID int64) error {
	if _, err := s.db.Exec(`DELETE FROM session WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete sessions for user: %w", err)
	}
	return nil
}

// ReplaceSingle deletes every session for sess.UserID and inserts sess,
// leaving the user with exactly one active session.
func (s *SessionStore) ReplaceSingle(sess model.Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM session WHERE user_id = ?`, sess.UserID); err != nil {
		return fmt.Errorf("delete sessions for user: %w", err)
	}
	if err := insertSession(tx, sess); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// RotateRefresh deletes the session keyed by oldRefreshToken and inserts
// sess. After it returns, the old triad resolves to nothing and the new
// triad is the sole valid credential set.
func (s *SessionStore) RotateRefresh(oldRefreshToken string, sess model.Session) error {
	if err := s.sweep(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin rotate: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM session WHERE refresh_token = ?`, oldRefreshToken); err != nil {
		return fmt.Errorf("delete rotated session: %w", err)
	}
	if err := insertSession(tx, sess); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotate: %w", err)
	}
	return nil
}
