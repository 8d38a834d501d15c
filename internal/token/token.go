// Package token mints the opaque credentials the rest of the service hands
// out: bearer tokens, TOTP seeds, and fully populated sessions.
package token

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/dukerupert/vodauth/internal/model"
)

const otpSecretBytes = 20

// Minter produces random credentials. Now is swappable so expiry math is
// testable against a fixed clock.
type Minter struct {
	ByteCount  int
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration
	Issuer     string
	Now        func() time.Time
}

func (m *Minter) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Opaque returns a URL-safe random string carrying ByteCount bytes of entropy.
func (m *Minter) Opaque() (string, error) {
	buf := make([]byte, m.ByteCount)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// OTPSecret returns a random base32 string usable as a TOTP seed.
func (m *Minter) OTPSecret() (string, error) {
	buf := make([]byte, otpSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate otp secret: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// ProvisioningURI builds the otpauth URI an authenticator app enrolls from.
// Pure function of its inputs.
func (m *Minter) ProvisioningURI(accountName, secret string) string {
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s",
		url.PathEscape(m.Issuer),
		url.PathEscape(accountName),
		url.QueryEscape(secret),
		url.QueryEscape(m.Issuer),
	)
}

// Session mints a session for the user with three fresh tokens and expiries
// computed from the configured TTLs.
func (m *Minter) Session(userID int64) (model.Session, error) {
	access, err := m.Opaque()
	if err != nil {
		return model.Session{}, err
	}
	media, err := m.Opaque()
	if err != nil {
		return model.Session{}, err
	}
	refresh, err := m.Opaque()
	if err != nil {
		return model.Session{}, err
	}

	now := m.now()
	return model.Session{
		UserID:           userID,
		AccessToken:      access,
		MediaToken:       media,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(m.AccessTTL),
		RefreshExpiresAt: now.Add(m.RefreshTTL),
	}, nil
}

// ResetPasswordExpiry returns the expiry instant for a reset token minted now.
func (m *Minter) ResetPasswordExpiry() time.Time {
	return m.now().Add(m.ResetTTL)
}
