package server

import (
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	pqotp "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/dukerupert/vodauth/internal/api"
	"github.com/dukerupert/vodauth/internal/config"
	"github.com/dukerupert/vodauth/internal/database"
	"github.com/dukerupert/vodauth/internal/model"
	"github.com/dukerupert/vodauth/internal/store"
)

// testSecret is a fixed TOTP secret whose code at the pinned clock is known.
const (
	testSecret = "base32secret3232"
	testCode   = "585501"
	fixedNow   = int64(1000)
)

type testEnv struct {
	t  *testing.T
	h  http.Handler
	db *sql.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	// An in-memory database exists per connection; pin the pool to one.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return time.Unix(fixedNow, 0) }

	srv := New(db, cfg, clock, logger)
	return &testEnv{t: t, h: srv.Router(), db: db}
}

func (e *testEnv) postForm(path, auth string, form url.Values) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, req)
	return w
}

func (e *testEnv) postJSON(path, auth, body string) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(path, auth string) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedUser(name string, privileged, verified bool) int64 {
	e.t.Helper()
	users := store.NewUserStore(e.db)
	id, err := users.Insert(model.RegisteringUser{
		Name:      name,
		Password:  "mysecret",
		OTPSecret: testSecret,
	})
	if err != nil {
		e.t.Fatalf("seed user %s: %v", name, err)
	}
	if privileged {
		if err := users.UpdatePrivilege(id, true); err != nil {
			e.t.Fatalf("seed privilege: %v", err)
		}
	}
	if verified {
		if err := users.UpdateOTPVerification(id, true); err != nil {
			e.t.Fatalf("seed verification: %v", err)
		}
	}
	return id
}

func (e *testEnv) seedSession(userID int64, access string) {
	e.t.Helper()
	sessions := store.NewSessionStore(e.db)
	err := sessions.Insert(model.Session{
		UserID:           userID,
		AccessToken:      access,
		MediaToken:       access + "-media",
		RefreshToken:     access + "-refresh",
		AccessExpiresAt:  time.Unix(fixedNow+86400, 0),
		RefreshExpiresAt: time.Unix(fixedNow+2*86400, 0),
	})
	if err != nil {
		e.t.Fatalf("seed session: %v", err)
	}
}

func (e *testEnv) seedRegistrationToken(tok string) {
	e.t.Helper()
	if err := store.NewRegistrationTokenStore(e.db).Insert(tok); err != nil {
		e.t.Fatalf("seed registration token: %v", err)
	}
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) api.Envelope {
	t.Helper()
	var env api.Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope %q: %v", w.Body.String(), err)
	}
	return env
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return body
}

func checkResponse(t *testing.T, w *httptest.ResponseRecorder, status int, code api.Code, message string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status: got %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	env := decodeEnvelope(t, w)
	if env.Code != code {
		t.Errorf("code: got %d, want %d", env.Code, code)
	}
	if env.Message != message {
		t.Errorf("message: got %q, want %q", env.Message, message)
	}
}

// otpFromURI computes the current code for the secret embedded in a
// provisioning URI, using the same pinned clock the server runs on.
func otpFromURI(t *testing.T, uri string) string {
	t.Helper()
	u, err := url.Parse(uri)
	if err != nil {
		t.Fatalf("parse provisioning uri %q: %v", uri, err)
	}
	secret := u.Query().Get("secret")
	if secret == "" {
		t.Fatalf("no secret in uri %q", uri)
	}
	code, err := totp.GenerateCodeCustom(secret, time.Unix(fixedNow, 0).UTC(), totp.ValidateOpts{
		Period:    30,
		Digits:    pqotp.DigitsSix,
		Algorithm: pqotp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	return code
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	w := e.get("/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if got := decodeBody(t, w)["status"]; got != "ok" {
		t.Errorf("got %v, want ok", got)
	}
}

func TestRegister(t *testing.T) {
	e := newTestEnv(t)

	t.Run("unknown registration token", func(t *testing.T) {
		w := e.postForm("/register", "", url.Values{
			"username": {"myname"},
			"password": {"mysecret"},
			"otp":      {"bogus"},
		})
		checkResponse(t, w, http.StatusBadRequest, api.CodeUnknownRegistrationToken, "Invalid Token!")
	})

	e.seedRegistrationToken("124")

	t.Run("success returns a provisioning uri", func(t *testing.T) {
		w := e.postForm("/register", "", url.Values{
			"username": {"myname"},
			"password": {"mysecret"},
			"otp":      {"124"},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d (body %s)", w.Code, w.Body.String())
		}
		uri, _ := decodeBody(t, w)["otp_secret"].(string)
		if !strings.HasPrefix(uri, "otpauth://totp/FnivesVOD:myname?") {
			t.Errorf("unexpected provisioning uri %q", uri)
		}
	})

	t.Run("token is single use", func(t *testing.T) {
		w := e.postForm("/register", "", url.Values{
			"username": {"secondname"},
			"password": {"mysecret"},
			"otp":      {"124"},
		})
		checkResponse(t, w, http.StatusBadRequest, api.CodeUnknownRegistrationToken, "Invalid Token!")
	})

	t.Run("taken username does not burn the token", func(t *testing.T) {
		e.seedRegistrationToken("125")
		w := e.postForm("/register", "", url.Values{
			"username": {"myname"},
			"password": {"othersecret"},
			"otp":      {"125"},
		})
		checkResponse(t, w, http.StatusBadRequest, api.CodeUsernameTaken, "Username is already taken!")

		ok, err := store.NewRegistrationTokenStore(e.db).IsValid("125")
		if err != nil {
			t.Fatalf("is valid: %v", err)
		}
		if !ok {
			t.Error("registration token must survive the failed attempt")
		}
	})
}

func TestLoginAndOTPVerification(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("myname", false, false)

	login := url.Values{"username": {"myname"}, "password": {"mysecret"}}

	t.Run("unknown user", func(t *testing.T) {
		w := e.postForm("/login", "", url.Values{"username": {"nobody"}, "password": {"mysecret"}})
		checkResponse(t, w, http.StatusBadRequest, api.CodeUserNotFound, "User cannot be found!")
	})

	t.Run("unverified login returns the provisioning uri", func(t *testing.T) {
		w := e.postForm("/login", "", login)
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d", w.Code)
		}
		uri, _ := decodeBody(t, w)["otp_secret"].(string)
		if !strings.Contains(uri, "secret="+strings.ToUpper(testSecret)) && !strings.Contains(uri, "secret="+testSecret) {
			t.Errorf("unexpected provisioning uri %q", uri)
		}
	})

	t.Run("wrong code is rejected", func(t *testing.T) {
		form := url.Values{}
		for k, v := range login {
			form[k] = v
		}
		form.Set("otp", "000000")
		w := e.postForm("/otp_verification", "", form)
		checkResponse(t, w, http.StatusBadRequest, api.CodeInvalidOTP, "Invalid Token!")
	})

	t.Run("correct code issues a session triad", func(t *testing.T) {
		form := url.Values{}
		for k, v := range login {
			form[k] = v
		}
		form.Set("otp", testCode)
		w := e.postForm("/otp_verification", "", form)
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d (body %s)", w.Code, w.Body.String())
		}
		body := decodeBody(t, w)
		for _, field := range []string{"access_token", "media_token", "refresh_token"} {
			if s, _ := body[field].(string); s == "" {
				t.Errorf("missing %s in %v", field, body)
			}
		}
		if exp, _ := body["expires_at"].(float64); int64(exp) != fixedNow+86400 {
			t.Errorf("expires_at: got %v, want %d", body["expires_at"], fixedNow+86400)
		}
	})

	t.Run("verified login is a plain success", func(t *testing.T) {
		w := e.postForm("/login", "", login)
		checkResponse(t, w, http.StatusOK, api.CodeFoundUser, "User found!")
	})
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t)
	id := e.seedUser("myname", false, true)
	e.seedSession(id, "livetoken")

	t.Run("without a bearer", func(t *testing.T) {
		w := e.postForm("/logout", "", nil)
		if w.Code != http.StatusOK {
			t.Errorf("status: got %d", w.Code)
		}
	})

	t.Run("deletes the session", func(t *testing.T) {
		w := e.postForm("/logout", "livetoken", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d", w.Code)
		}
		checkResponse(t, e.get("/user/is_privileged", "livetoken"),
			http.StatusUnauthorized, api.CodeInvalidAuthorization, "Invalid Authorization!")
	})

	t.Run("repeat logout still succeeds", func(t *testing.T) {
		w := e.postForm("/logout", "livetoken", nil)
		if w.Code != http.StatusOK {
			t.Errorf("status: got %d", w.Code)
		}
	})
}

func TestRefresh(t *testing.T) {
	e := newTestEnv(t)
	id := e.seedUser("myname", false, true)
	e.seedSession(id, "livetoken")

	t.Run("missing token", func(t *testing.T) {
		w := e.postForm("/refresh/token", "", nil)
		checkResponse(t, w, http.StatusBadRequest, api.CodeInvalidRefreshToken, "Invalid Refresh Token!")
	})

	t.Run("unknown token", func(t *testing.T) {
		w := e.postForm("/refresh/token", "", url.Values{"refresh_token": {"ghost"}})
		checkResponse(t, w, http.StatusBadRequest, api.CodeInvalidRefreshToken, "Invalid Refresh Token!")
	})

	var newAccess string
	t.Run("rotation issues a fresh pair", func(t *testing.T) {
		w := e.postForm("/refresh/token", "", url.Values{"refresh_token": {"livetoken-refresh"}})
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d (body %s)", w.Code, w.Body.String())
		}
		body := decodeBody(t, w)
		newAccess, _ = body["access_token"].(string)
		if newAccess == "" || body["refresh_token"] == "" {
			t.Fatalf("incomplete rotation response: %v", body)
		}
		if _, present := body["media_token"]; present {
			t.Error("refresh response must not carry a media token")
		}
	})

	t.Run("old triad is dead", func(t *testing.T) {
		checkResponse(t, e.get("/user/is_privileged", "livetoken"),
			http.StatusUnauthorized, api.CodeInvalidAuthorization, "Invalid Authorization!")
		w := e.postForm("/refresh/token", "", url.Values{"refresh_token": {"livetoken-refresh"}})
		checkResponse(t, w, http.StatusBadRequest, api.CodeInvalidRefreshToken, "Invalid Refresh Token!")
	})

	t.Run("new access token works", func(t *testing.T) {
		w := e.get("/user/is_privileged", newAccess)
		if w.Code != http.StatusOK {
			t.Errorf("status: got %d (body %s)", w.Code, w.Body.String())
		}
	})
}

func TestMediaAccess(t *testing.T) {
	e := newTestEnv(t)
	id := e.seedUser("myname", false, true)
	e.seedSession(id, "livetoken")

	request := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/media/access", nil)
		if token != "" {
			req.Header.Set("Media-Authorization", token)
		}
		w := httptest.NewRecorder()
		e.h.ServeHTTP(w, req)
		return w
	}

	t.Run("missing header", func(t *testing.T) {
		checkResponse(t, request(""), http.StatusUnauthorized, api.CodeMissingMediaAuth, "Missing Authorization!")
	})
	t.Run("unknown token", func(t *testing.T) {
		checkResponse(t, request("ghost"), http.StatusUnauthorized, api.CodeInvalidMediaAuth, "Invalid Authorization!")
	})
	t.Run("access token is not a media token", func(t *testing.T) {
		checkResponse(t, request("livetoken"), http.StatusUnauthorized, api.CodeInvalidMediaAuth, "Invalid Authorization!")
	})
	t.Run("valid token", func(t *testing.T) {
		checkResponse(t, request("livetoken-media"), http.StatusOK, api.CodeMediaAccessGranted, "Access Granted")
	})
}

func TestChangePassword(t *testing.T) {
	e := newTestEnv(t)
	id := e.seedUser("myname", false, true)
	e.seedSession(id, "first")
	e.seedSession(id, "second")

	t.Run("missing current password", func(t *testing.T) {
		w := e.postForm("/change/password", "first", url.Values{
			"otp":          {testCode},
			"new_password": {"newsecret"},
		})
		checkResponse(t, w, http.StatusBadRequest, api.CodeInvalidPassword, "Invalid Password!")
	})

	t.Run("missing new password", func(t *testing.T) {
		w := e.postForm("/change/password", "first", url.Values{
			"otp":      {testCode},
			"password": {"mysecret"},
		})
		checkResponse(t, w, http.StatusBadRequest, api.CodeInvalidNewPassword, "New Password cannot be empty!")
	})

	t.Run("wrong current password", func(t *testing.T) {
		w := e.postForm("/change/password", "first", url.Values{
			"otp":          {testCode},
			"password":     {"wrongsecret"},
			"new_password": {"newsecret"},
		})
		checkResponse(t, w, http.StatusBadRequest, api.CodeInvalidPassword, "Invalid Password!")
	})

	var newAccess string
	t.Run("success collapses to one fresh session", func(t *testing.T) {
		w := e.postForm("/change/password", "first", url.Values{
			"otp":          {testCode},
			"password":     {"mysecret"},
			"new_password": {"newsecret"},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d (body %s)", w.Code, w.Body.String())
		}
		body := decodeBody(t, w)
		newAccess, _ = body["access_token"].(string)
		if newAccess == "" {
			t.Fatalf("incomplete response: %v", body)
		}
		if s, _ := body["media_token"].(string); s == "" {
			t.Errorf("missing media_token in %v", body)
		}

		for _, dead := range []string{"first", "second"} {
			checkResponse(t, e.get("/user/is_privileged", dead),
				http.StatusUnauthorized, api.CodeInvalidAuthorization, "Invalid Authorization!")
		}
		if w := e.get("/user/is_privileged", newAccess); w.Code != http.StatusOK {
			t.Errorf("fresh session: got %d", w.Code)
		}
	})

	t.Run("new password is live", func(t *testing.T) {
		w := e.postForm("/login", "", url.Values{"username": {"myname"}, "password": {"newsecret"}})
		checkResponse(t, w, http.StatusOK, api.CodeFoundUser, "User found!")
		w = e.postForm("/login", "", url.Values{"username": {"myname"}, "password": {"mysecret"}})
		checkResponse(t, w, http.StatusBadRequest, api.CodeUserNotFound, "User cannot be found!")
	})
}

func TestResetPassword(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("myname", false, true)

	resetTokens := store.NewResetTokenStore(e.db)
	resetTokens.SetClock(func() time.Time { return time.Unix(fixedNow, 0) })
	for _, tok := range []string{"alma", "korte"} {
		if err := resetTokens.Insert(tok, "myname", time.Unix(fixedNow+3600, 0)); err != nil {
			t.Fatalf("seed reset token: %v", err)
		}
	}

	t.Run("missing token field", func(t *testing.T) {
		w := e.postForm("/reset/password", "", url.Values{
			"username": {"myname"},
			"password": {"newsecret"},
		})
		checkResponse(t, w, http.StatusBadRequest, api.CodeUnknownResetToken, "Invalid Reset Password Token given!")
	})

	t.Run("token bound to another user", func(t *testing.T) {
		w := e.postForm("/reset/password", "", url.Values{
			"username":             {"othername"},
			"password":             {"newsecret"},
			"reset_password_token": {"alma"},
		})
		checkResponse(t, w, http.StatusBadRequest, api.CodeUnknownResetToken, "Invalid Reset Password Token given!")
	})

	t.Run("success saves the password", func(t *testing.T) {
		w := e.postForm("/reset/password", "", url.Values{
			"username":             {"myname"},
			"password":             {"newsecret"},
			"reset_password_token": {"alma"},
		})
		checkResponse(t, w, http.StatusOK, api.CodeSavedPassword, "Password was Saved!")

		w = e.postForm("/login", "", url.Values{"username": {"myname"}, "password": {"newsecret"}})
		checkResponse(t, w, http.StatusOK, api.CodeFoundUser, "User found!")
	})

	t.Run("success burns every outstanding token", func(t *testing.T) {
		w := e.postForm("/reset/password", "", url.Values{
			"username":             {"myname"},
			"password":             {"thirdsecret"},
			"reset_password_token": {"korte"},
		})
		checkResponse(t, w, http.StatusBadRequest, api.CodeUnknownResetToken, "Invalid Reset Password Token given!")
	})
}

func TestAdminEndpoints(t *testing.T) {
	e := newTestEnv(t)
	adminID := e.seedUser("adminuser", true, true)
	plainID := e.seedUser("plainuser", false, true)
	e.seedSession(adminID, "admintoken")
	e.seedSession(plainID, "plaintoken")

	t.Run("privilege gate", func(t *testing.T) {
		w := e.postForm("/admin/registration_token", "plaintoken", url.Values{
			"otp":                {testCode},
			"registration_token": {"124"},
		})
		checkResponse(t, w, http.StatusBadRequest, api.CodeInvalidRegistrationToken, "Not Authorized!")
	})

	t.Run("otp gate", func(t *testing.T) {
		w := e.postForm("/admin/registration_token", "admintoken", url.Values{
			"registration_token": {"124"},
		})
		checkResponse(t, w, http.StatusBadRequest, api.CodeInvalidOTP, "Invalid Token!")
	})

	t.Run("create registration token", func(t *testing.T) {
		w := e.postForm("/admin/registration_token", "admintoken", url.Values{
			"otp":                {testCode},
			"registration_token": {"124"},
		})
		checkResponse(t, w, http.StatusOK, api.CodeSavedRegistrationToken, "Registration token Saved!")
	})

	t.Run("duplicate registration token", func(t *testing.T) {
		w := e.postForm("/admin/registration_token", "admintoken", url.Values{
			"otp":                {testCode},
			"registration_token": {"124"},
		})
		checkResponse(t, w, http.StatusBadRequest, api.CodeInvalidRegistrationToken, "Invalid Registration Token given!")
	})

	t.Run("blank registration token", func(t *testing.T) {
		w := e.postForm("/admin/registration_token", "admintoken", url.Values{
			"otp":                {testCode},
			"registration_token": {"   "},
		})
		checkResponse(t, w, http.StatusBadRequest, api.CodeInvalidRegistrationToken, "Invalid Registration Token given!")
	})

	t.Run("list registration tokens", func(t *testing.T) {
		w := e.get("/admin/get_registration_tokens", "admintoken")
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d", w.Code)
		}
		tokens, _ := decodeBody(t, w)["registration_tokens"].([]any)
		if len(tokens) != 1 || tokens[0] != "124" {
			t.Errorf("got %v, want [124]", tokens)
		}
	})

	t.Run("create reset password token", func(t *testing.T) {
		w := e.postForm("/admin/reset_password_token", "admintoken", url.Values{
			"otp":                  {testCode},
			"reset_password_token": {"alma"},
			"username_to_reset":    {"plainuser"},
		})
		checkResponse(t, w, http.StatusOK, api.CodeSavedResetPasswordToken, "Reset Password token Saved!")
	})

	t.Run("blank reset password token", func(t *testing.T) {
		w := e.postForm("/admin/reset_password_token", "admintoken", url.Values{
			"otp":               {testCode},
			"username_to_reset": {"plainuser"},
		})
		checkResponse(t, w, http.StatusBadRequest, api.CodeInvalidResetToken, "Invalid Reset Password Token given!")
	})

	t.Run("blank username to reset", func(t *testing.T) {
		w := e.postForm("/admin/reset_password_token", "admintoken", url.Values{
			"otp":                  {testCode},
			"reset_password_token": {"alma"},
		})
		checkResponse(t, w, http.StatusBadRequest, api.CodeInvalidUsernameToEdit, "username_to_reset cannot be empty!")
	})

	t.Run("reset otp verification", func(t *testing.T) {
		w := e.postForm("/admin/reset_otp_verification", "admintoken", url.Values{
			"otp":               {testCode},
			"username_to_reset": {"plainuser"},
		})
		checkResponse(t, w, http.StatusOK, api.CodeResetOTPVerification, "OTP Verification Reset!")

		// The user is back in enrollment: login answers with the secret.
		lw := e.postForm("/login", "", url.Values{"username": {"plainuser"}, "password": {"mysecret"}})
		if lw.Code != http.StatusOK {
			t.Fatalf("login status: got %d", lw.Code)
		}
		if uri, _ := decodeBody(t, lw)["otp_secret"].(string); uri == "" {
			t.Errorf("expected provisioning uri, got %s", lw.Body.String())
		}
	})

	t.Run("reset otp verification for unknown user", func(t *testing.T) {
		w := e.postForm("/admin/reset_otp_verification", "admintoken", url.Values{
			"otp":               {testCode},
			"username_to_reset": {"nobody"},
		})
		checkResponse(t, w, http.StatusBadRequest, api.CodeUserNotFound, "User cannot be found!")
	})

	t.Run("list users", func(t *testing.T) {
		w := e.get("/admin/get_users", "admintoken")
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d", w.Code)
		}
		users, _ := decodeBody(t, w)["users"].([]any)
		if len(users) != 2 {
			t.Fatalf("got %v, want 2 users", users)
		}
	})

	t.Run("delete user kills their sessions", func(t *testing.T) {
		w := e.postForm("/admin/delete/user", "admintoken", url.Values{
			"otp":                {testCode},
			"username_to_delete": {"plainuser"},
		})
		checkResponse(t, w, http.StatusOK, api.CodeDeletedUser, "User deleted!")

		checkResponse(t, e.get("/user/is_privileged", "plaintoken"),
			http.StatusUnauthorized, api.CodeInvalidAuthorization, "Invalid Authorization!")
	})

	t.Run("delete unknown user is idempotent", func(t *testing.T) {
		w := e.postForm("/admin/delete/user", "admintoken", url.Values{
			"otp":                {testCode},
			"username_to_delete": {"nobody"},
		})
		checkResponse(t, w, http.StatusOK, api.CodeDeletedUser, "User deleted!")
	})

	t.Run("delete registration token", func(t *testing.T) {
		w := e.postForm("/admin/delete/registration_token", "admintoken", url.Values{
			"otp":                {testCode},
			"registration_token": {"124"},
		})
		checkResponse(t, w, http.StatusOK, api.CodeDeletedToken, "Token deleted!")

		// Gone and idempotent.
		w = e.postForm("/admin/delete/registration_token", "admintoken", url.Values{
			"otp":                {testCode},
			"registration_token": {"124"},
		})
		checkResponse(t, w, http.StatusOK, api.CodeDeletedToken, "Token deleted!")
	})
}

func TestIsPrivileged(t *testing.T) {
	e := newTestEnv(t)
	adminID := e.seedUser("adminuser", true, true)
	plainID := e.seedUser("plainuser", false, true)
	e.seedSession(adminID, "admintoken")
	e.seedSession(plainID, "plaintoken")

	t.Run("no bearer", func(t *testing.T) {
		checkResponse(t, e.get("/user/is_privileged", ""),
			http.StatusUnauthorized, api.CodeMissingAuthorization, "Missing Authorization!")
	})

	for name, tc := range map[string]struct {
		token string
		want  bool
	}{
		"plain": {"plaintoken", false},
		"admin": {"admintoken", true},
	} {
		t.Run(name, func(t *testing.T) {
			w := e.get("/user/is_privileged", tc.token)
			if w.Code != http.StatusOK {
				t.Fatalf("status: got %d", w.Code)
			}
			if got := decodeBody(t, w)["is_privileged"]; got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFileMetadata(t *testing.T) {
	e := newTestEnv(t)
	id := e.seedUser("myname", false, true)
	e.seedSession(id, "livetoken")

	t.Run("requires a session", func(t *testing.T) {
		w := e.postJSON("/file/metadata", "", `{"video.mp4":"h264"}`)
		checkResponse(t, w, http.StatusUnauthorized, api.CodeMissingAuthorization, "Missing Authorization!")
	})

	t.Run("malformed body", func(t *testing.T) {
		w := e.postJSON("/file/metadata", "livetoken", `not json`)
		checkResponse(t, w, http.StatusBadRequest, api.CodeCantSaveFileMetadata, "Couldn't save metadata!")
	})

	t.Run("save and fetch", func(t *testing.T) {
		w := e.postJSON("/file/metadata", "livetoken", `{"video.mp4":"h264"}`)
		checkResponse(t, w, http.StatusOK, api.CodeSavedFileMetadata, "File MetaData Saved!")

		w = e.get("/file/metadata?file_key=video.mp4", "livetoken")
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d", w.Code)
		}
		if got := decodeBody(t, w)["video.mp4"]; got != "h264" {
			t.Errorf("got %v, want h264", got)
		}
	})

	t.Run("missing file key", func(t *testing.T) {
		w := e.get("/file/metadata", "livetoken")
		checkResponse(t, w, http.StatusBadRequest, api.CodeInvalidFileKey, "Invalid FileKey (file_key)!")
	})

	t.Run("unknown file key is an empty map", func(t *testing.T) {
		w := e.get("/file/metadata?file_key=nothing.mp4", "livetoken")
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d", w.Code)
		}
		if body := decodeBody(t, w); len(body) != 0 {
			t.Errorf("got %v, want empty map", body)
		}
	})
}

func TestUserFileMetadata(t *testing.T) {
	e := newTestEnv(t)
	firstID := e.seedUser("firstuser", false, true)
	secondID := e.seedUser("seconduser", false, true)
	e.seedSession(firstID, "firsttoken")
	e.seedSession(secondID, "secondtoken")

	t.Run("malformed body", func(t *testing.T) {
		w := e.postJSON("/user/file/metadata", "firsttoken", `[]`)
		checkResponse(t, w, http.StatusBadRequest, api.CodeCantSaveUserFileMetadata, "Couldn't save user's metadata!")
	})

	t.Run("metadata is scoped per user", func(t *testing.T) {
		w := e.postJSON("/user/file/metadata", "firsttoken", `{"video.mp4":"1:23"}`)
		checkResponse(t, w, http.StatusOK, api.CodeSavedUserFileMetadata, "User's File MetaData Saved!")

		w = e.get("/user/file/metadata", "firsttoken")
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d", w.Code)
		}
		if got := decodeBody(t, w)["video.mp4"]; got != "1:23" {
			t.Errorf("got %v, want 1:23", got)
		}

		w = e.get("/user/file/metadata", "secondtoken")
		if w.Code != http.StatusOK {
			t.Fatalf("status: got %d", w.Code)
		}
		if body := decodeBody(t, w); len(body) != 0 {
			t.Errorf("other user sees %v, want empty map", body)
		}
	})
}

func TestFullEnrollmentFlow(t *testing.T) {
	e := newTestEnv(t)
	e.seedRegistrationToken("124")

	w := e.postForm("/register", "", url.Values{
		"username": {"newuser"},
		"password": {"newsecret"},
		"otp":      {"124"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("register status: got %d (body %s)", w.Code, w.Body.String())
	}
	uri, _ := decodeBody(t, w)["otp_secret"].(string)
	code := otpFromURI(t, uri)

	w = e.postForm("/otp_verification", "", url.Values{
		"username": {"newuser"},
		"password": {"newsecret"},
		"otp":      {code},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("otp verification status: got %d (body %s)", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	access, _ := body["access_token"].(string)
	media, _ := body["media_token"].(string)

	if w := e.get("/user/is_privileged", access); w.Code != http.StatusOK {
		t.Errorf("session check: got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/media/access", nil)
	req.Header.Set("Media-Authorization", media)
	mw := httptest.NewRecorder()
	e.h.ServeHTTP(mw, req)
	checkResponse(t, mw, http.StatusOK, api.CodeMediaAccessGranted, "Access Granted")
}
