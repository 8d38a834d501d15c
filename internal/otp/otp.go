// Package otp wraps time-window TOTP verification. The algorithm itself is
// the library's; this only pins the window semantics.
package otp

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Verifier checks 6-digit TOTP codes against a shared secret with a skew of
// ±2 time-steps (30s each), so codes up to 60s old or ahead still pass.
// Stateless: there is no replay protection beyond the window itself.
type Verifier struct {
	Skew uint
	Now  func() time.Time
}

func NewVerifier() *Verifier {
	return &Verifier{Skew: 2}
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Verify reports whether code matches the TOTP value of secret at any step
// within the tolerance window. Malformed codes and undecodable secrets are
// simply invalid.
func (v *Verifier) Verify(secret, code string) bool {
	ok, err := totp.ValidateCustom(code, secret, v.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      v.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
