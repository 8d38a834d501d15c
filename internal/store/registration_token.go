package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateRegistrationToken is returned when inserting a token that is
// already stored. Duplicates are rejected, never overwritten.
var ErrDuplicateRegistrationToken = errors.New("registration token already exists")

// RegistrationTokenStore holds single-use invite codes. Tokens never expire;
// they exist until consumed or administratively deleted.
type RegistrationTokenStore struct {
	db *sql.DB
}

func NewRegistrationTokenStore(db *sql.DB) *RegistrationTokenStore {
	return &RegistrationTokenStore{db: db}
}

// IsValid reports whether exactly one stored token equals the given one.
func (s *RegistrationTokenStore) IsValid(token string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM registration_token WHERE token = ?`, token).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count registration tokens: %w", err)
	}
	return count == 1, nil
}

func (s *RegistrationTokenStore) Insert(token string) error {
	_, err := s.db.Exec(`INSERT INTO registration_token (token) VALUES (?)`, token)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateRegistrationToken
		}
		return fmt.Errorf("insert registration token: %w", err)
	}
	return nil
}

// Delete removes the token. No-op when absent.
func (s *RegistrationTokenStore) Delete(token string) error {
	if _, err := s.db.Exec(`DELETE FROM registration_token WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete registration token: %w", err)
	}
	return nil
}

// List returns every stored token.
func (s *RegistrationTokenStore) List() ([]string, error) {
	rows, err := s.db.Query(`SELECT token FROM registration_token`)
	if err != nil {
		return nil, fmt.Errorf("list registration tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan registration token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registration tokens: %w", err)
	}
	return tokens, nil
}
