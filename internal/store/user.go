package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/vodauth/internal/model"
)

// ErrUsernameTaken is returned when inserting a user whose name exists.
var ErrUsernameTaken = errors.New("username already taken")

// dummyHash keeps password verification roughly constant-time when the
// username does not exist.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

const userCols = `id, username, otp_secret, privileged, was_otp_verified`

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := scanner.Scan(&u.ID, &u.Name, &u.OTPSecret, &u.Privileged, &u.OTPVerified)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID returns the user, or nil if absent.
func (s *UserStore) GetByID(id int64) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM user WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// GetByName returns the user, or nil if absent.
func (s *UserStore) GetByName(name string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM user WHERE username = ?`, name)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by name: %w", err)
	}
	return u, nil
}

// GetByNameAndPassword returns the user only when the password verifies
// against the stored hash; nil otherwise. A missing user still costs one
// hash comparison.
func (s *UserStore) GetByNameAndPassword(name, password string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+`, password FROM user WHERE username = ?`, name)

	var u model.User
	var hash string
	err := row.Scan(&u.ID, &u.Name, &u.OTPSecret, &u.Privileged, &u.OTPVerified, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by name: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, nil
	}
	return &u, nil
}

// List returns every user.
func (s *UserStore) List() ([]model.User, error) {
	rows, err := s.db.Query(`SELECT ` + userCols + ` FROM user`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// Insert hashes the password and adds the user, returning the new id.
// Returns ErrUsernameTaken when the name is already in use.
func (s *UserStore) Insert(u model.RegisteringUser) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	result, err := s.db.Exec(
		`INSERT INTO user (username, password, otp_secret, privileged, was_otp_verified) VALUES (?, ?, ?, ?, ?)`,
		u.Name, string(hash), u.OTPSecret, u.Privileged, u.OTPVerified,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrUsernameTaken
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// UpdatePassword replaces the user's password hash.
func (s *UserStore) UpdatePassword(id int64, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE user SET password = ? WHERE id = ?`, string(hash), id); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// UpdateOTPVerification flips the user's otp_verified flag.
func (s *UserStore) UpdateOTPVerification(id int64, verified bool) error {
	if _, err := s.db.Exec(`UPDATE user SET was_otp_verified = ? WHERE id = ?`, verified, id); err != nil {
		return fmt.Errorf("update otp verification: %w", err)
	}
	return nil
}

// UpdatePrivilege flips the user's privileged flag.
func (s *UserStore) UpdatePrivilege(id int64, privileged bool) error {
	if _, err := s.db.Exec(`UPDATE user SET privileged = ? WHERE id = ?`, privileged, id); err != nil {
		return fmt.Errorf("update privilege: %w", err)
	}
	return nil
}

// DeleteByID removes the user row. Sessions are deleted by the caller, which
// owns the ordering of the cascade.
func (s *UserStore) DeleteByID(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM user WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
