package model

import "time"

// User is a stored account. The password hash never leaves the store layer.
type User struct {
	ID          int64
	Name        string
	OTPSecret   string
	Privileged  bool
	OTPVerified bool
}

// RegisteringUser carries the fields needed to insert a new account. Password
// is plaintext here; the user store hashes it on insert.
type RegisteringUser struct {
	Name        string
	Password    string
	OTPSecret   string
	Privileged  bool
	OTPVerified bool
}

// Session maps a triad of bearer tokens to a user. Access and media share one
// expiry horizon, refresh carries its own.
type Session struct {
	UserID           int64
	AccessToken      string
	MediaToken       string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// ResetPasswordToken is a time-limited, per-username recovery code.
type ResetPasswordToken struct {
	Token     string
	Username  string
	ExpiresAt time.Time
}
