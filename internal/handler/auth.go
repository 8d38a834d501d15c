package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/vodauth/internal/api"
	"github.com/dukerupert/vodauth/internal/guard"
	"github.com/dukerupert/vodauth/internal/model"
	"github.com/dukerupert/vodauth/internal/otp"
	"github.com/dukerupert/vodauth/internal/store"
	"github.com/dukerupert/vodauth/internal/token"
)

// AuthHandler owns the credential lifecycle endpoints: registration, login,
// OTP verification, logout and refresh.
type AuthHandler struct {
	users     *store.UserStore
	sessions  *store.SessionStore
	regTokens *store.RegistrationTokenStore
	minter    *token.Minter
	verifier  *otp.Verifier
	limits    guard.Limits
	logger    *slog.Logger
}

func NewAuthHandler(
	us *store.UserStore,
	ss *store.SessionStore,
	rts *store.RegistrationTokenStore,
	minter *token.Minter,
	verifier *otp.Verifier,
	limits guard.Limits,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		users:     us,
		sessions:  ss,
		regTokens: rts,
		minter:    minter,
		verifier:  verifier,
		limits:    limits,
		logger:    logger,
	}
}

type sessionResponse struct {
	AccessToken  string `json:"access_token"`
	MediaToken   string `json:"media_token,omitempty"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

func newSessionResponse(sess model.Session, withMedia bool) sessionResponse {
	resp := sessionResponse{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		ExpiresAt:    sess.AccessExpiresAt.Unix(),
	}
	if withMedia {
		resp.MediaToken = sess.MediaToken
	}
	return resp
}

// Register creates an account gated by a single-use registration token. The
// token is consumed only after the user row lands, so a taken username does
// not burn the invite.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	regToken := guard.Crop(r.FormValue("otp"), h.limits.OTP)
	valid, err := h.regTokens.IsValid(regToken)
	if err != nil {
		h.fail(w, "validate registration token", err)
		return
	}
	if !valid {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeUnknownRegistrationToken, "Invalid Token!")
		return
	}

	secret, err := h.minter.OTPSecret()
	if err != nil {
		h.fail(w, "mint otp secret", err)
		return
	}

	_, err = h.users.Insert(model.RegisteringUser{
		Name:      gc.Username,
		Password:  gc.Password,
		OTPSecret: secret,
	})
	if errors.Is(err, store.ErrUsernameTaken) {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeUsernameTaken, "Username is already taken!")
		return
	}
	if err != nil {
		h.fail(w, "insert user", err)
		return
	}

	if err := h.regTokens.Delete(regToken); err != nil {
		h.fail(w, "consume registration token", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{
		"otp_secret": h.minter.ProvisioningURI(gc.Username, secret),
	})
}

// Login answers with the provisioning URI until the user has passed OTP
// verification once, then with a plain success envelope.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	if gc.User.OTPVerified {
		api.WriteMessage(w, http.StatusOK, api.CodeFoundUser, "User found!")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{
		"otp_secret": h.minter.ProvisioningURI(gc.User.Name, gc.User.OTPSecret),
	})
}

// OTPVerification checks the submitted code and, on success, marks the user
// verified and issues a fresh session triad.
func (h *AuthHandler) OTPVerification(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	code := guard.Crop(r.FormValue("otp"), h.limits.OTP)
	if !h.verifier.Verify(gc.User.OTPSecret, code) {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeInvalidOTP, "Invalid Token!")
		return
	}

	if err := h.users.UpdateOTPVerification(gc.User.ID, true); err != nil {
		h.fail(w, "update otp verification", err)
		return
	}

	sess, err := h.minter.Session(gc.User.ID)
	if err != nil {
		h.fail(w, "mint session", err)
		return
	}
	if err := h.sessions.Insert(sess); err != nil {
		h.fail(w, "insert session", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, newSessionResponse(sess, true))
}

// Logout deletes the bearer's session. Always an empty 200, valid bearer or
// not.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	accessToken := guard.Crop(r.Header.Get("Authorization"), h.limits.Token)
	if accessToken == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := h.sessions.DeleteByAccessToken(accessToken); err != nil {
		h.fail(w, "delete session", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Refresh rotates a refresh token into an entirely new session. The old
// triad becomes unusable in the same operation.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := guard.Crop(r.FormValue("refresh_token"), h.limits.Token)
	if refreshToken == "" {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeInvalidRefreshToken, "Invalid Refresh Token!")
		return
	}

	userID, ok, err := h.sessions.UserIDByRefreshToken(refreshToken)
	if err != nil {
		h.fail(w, "resolve refresh token", err)
		return
	}
	if !ok {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeInvalidRefreshToken, "Invalid Refresh Token!")
		return
	}

	sess, err := h.minter.Session(userID)
	if err != nil {
		h.fail(w, "mint session", err)
		return
	}
	if err := h.sessions.RotateRefresh(refreshToken, sess); err != nil {
		h.fail(w, "rotate session", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, newSessionResponse(sess, false))
}

func (h *AuthHandler) fail(w http.ResponseWriter, action string, err error) {
	h.logger.Error(action, "error", err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}
