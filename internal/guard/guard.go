// Package guard implements the ordered authorization pipeline endpoints
// compose from. A guard either fills in part of the request context or
// terminates the chain with a status/code/message triple; a runner folds the
// chain and hands the surviving context to the handler.
package guard

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/vodauth/internal/api"
	"github.com/dukerupert/vodauth/internal/model"
	"github.com/dukerupert/vodauth/internal/otp"
	"github.com/dukerupert/vodauth/internal/store"
)

// Reject terminates a chain. Status is the HTTP status, Code and Message the
// envelope the client sees.
type Reject struct {
	Status  int
	Code    api.Code
	Message string
}

// Context accumulates what the guards have derived so far. A guard may rely
// on every field its predecessors filled.
type Context struct {
	Username string
	Password string
	User     *model.User
}

// Guard inspects the request and the accumulated context. It returns a
// non-nil Reject to terminate, or an error for store-level faults that map
// to a plain 500.
type Guard func(r *http.Request, gc *Context) (*Reject, error)

// Limits caps every credential input before it touches a store.
type Limits struct {
	Username int
	Password int
	OTP      int
	Token    int
	Key      int
}

// Crop truncates s to at most max bytes.
func Crop(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// Pipeline builds guards over the credential and user stores.
type Pipeline struct {
	sessions *store.SessionStore
	users    *store.UserStore
	verifier *otp.Verifier
	limits   Limits
	logger   *slog.Logger
}

func NewPipeline(sessions *store.SessionStore, users *store.UserStore, verifier *otp.Verifier, limits Limits, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		sessions: sessions,
		users:    users,
		verifier: verifier,
		limits:   limits,
		logger:   logger,
	}
}

// Limits exposes the configured input caps for handlers that crop their own
// form fields.
func (p *Pipeline) Limits() Limits {
	return p.limits
}

// Handle folds the guard chain over the request and calls h with the
// surviving context. Store faults log and answer 500; they are never
// swallowed into an authorization error.
func (p *Pipeline) Handle(guards []Guard, h func(http.ResponseWriter, *http.Request, *Context)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gc := &Context{}
		for _, g := range guards {
			rej, err := g(r, gc)
			if err != nil {
				p.logger.Error("guard failure", "path", r.URL.Path, "error", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if rej != nil {
				api.WriteMessage(w, rej.Status, rej.Code, rej.Message)
				return
			}
		}
		h(w, r, gc)
	}
}

// UsernamePassword requires both form fields to be present, cropping each.
func (p *Pipeline) UsernamePassword() []Guard {
	return []Guard{
		func(r *http.Request, gc *Context) (*Reject, error) {
			r.ParseForm()
			username, ok := FormValue(r, "username")
			if !ok {
				return &Reject{http.StatusBadRequest, api.CodeEmptyUsername, "Username cannot be empty!"}, nil
			}
			password, ok := FormValue(r, "password")
			if !ok {
				return &Reject{http.StatusBadRequest, api.CodeEmptyPassword, "Password cannot be empty!"}, nil
			}
			gc.Username = Crop(username, p.limits.Username)
			gc.Password = Crop(password, p.limits.Password)
			return nil, nil
		},
	}
}

// UserByNamePassword extends UsernamePassword with a credential lookup.
func (p *Pipeline) UserByNamePassword() []Guard {
	return append(p.UsernamePassword(),
		func(r *http.Request, gc *Context) (*Reject, error) {
			user, err := p.users.GetByNameAndPassword(gc.Username, gc.Password)
			if err != nil {
				return nil, err
			}
			if user == nil {
				return &Reject{http.StatusBadRequest, api.CodeUserNotFound, "User cannot be found!"}, nil
			}
			gc.User = user
			return nil, nil
		},
	)
}

// Session is the mandatory prefix for bearer-gated endpoints: credential
// presence, session resolution, user existence. A stale user id (deleted
// after issuance) answers 400, not 401.
func (p *Pipeline) Session() []Guard {
	return []Guard{
		func(r *http.Request, gc *Context) (*Reject, error) {
			token := Crop(r.Header.Get("Authorization"), p.limits.Token)
			if token == "" {
				return &Reject{http.StatusUnauthorized, api.CodeMissingAuthorization, "Missing Authorization!"}, nil
			}

			userID, ok, err := p.sessions.UserIDByAccessToken(token)
			if err != nil {
				return nil, err
			}
			if !ok {
				return &Reject{http.StatusUnauthorized, api.CodeInvalidAuthorization, "Invalid Authorization!"}, nil
			}

			user, err := p.users.GetByID(userID)
			if err != nil {
				return nil, err
			}
			if user == nil {
				return &Reject{http.StatusBadRequest, api.CodeInvalidAuthorizationUser, "Invalid Authorization!"}, nil
			}
			gc.User = user
			return nil, nil
		},
	}
}

// OTPVerified re-verifies a fresh code from the request against the
// authenticated user's secret. Composes after Session.
func (p *Pipeline) OTPVerified() Guard {
	return func(r *http.Request, gc *Context) (*Reject, error) {
		code := Crop(r.FormValue("otp"), p.limits.OTP)
		if !p.verifier.Verify(gc.User.OTPSecret, code) {
			return &Reject{http.StatusBadRequest, api.CodeInvalidOTP, "Invalid Token!"}, nil
		}
		return nil, nil
	}
}

// Privileged requires the authenticated user's privileged flag. Composes
// after Session.
func (p *Pipeline) Privileged() Guard {
	return func(r *http.Request, gc *Context) (*Reject, error) {
		if !gc.User.Privileged {
			return &Reject{http.StatusBadRequest, api.CodeInvalidRegistrationToken, "Not Authorized!"}, nil
		}
		return nil, nil
	}
}

// FormValue distinguishes an absent form field from a present-but-empty one.
// Callers must have parsed the form.
func FormValue(r *http.Request, key string) (string, bool) {
	vals, ok := r.PostForm[key]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}
