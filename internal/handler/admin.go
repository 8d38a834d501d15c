package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/vodauth/internal/api"
	"github.com/dukerupert/vodauth/internal/guard"
	"github.com/dukerupert/vodauth/internal/store"
	"github.com/dukerupert/vodauth/internal/token"
)

// AdminHandler owns the privileged management endpoints.
type AdminHandler struct {
	users       *store.UserStore
	sessions    *store.SessionStore
	regTokens   *store.RegistrationTokenStore
	resetTokens *store.ResetTokenStore
	minter      *token.Minter
	limits      guard.Limits
	logger      *slog.Logger
}

func NewAdminHandler(
	us *store.UserStore,
	ss *store.SessionStore,
	rts *store.RegistrationTokenStore,
	rpts *store.ResetTokenStore,
	minter *token.Minter,
	limits guard.Limits,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		users:       us,
		sessions:    ss,
		regTokens:   rts,
		resetTokens: rpts,
		minter:      minter,
		limits:      limits,
		logger:      logger,
	}
}

// CreateRegistrationToken stores a new invite code. A duplicate answers the
// same code as a malformed one; nothing is overwritten.
func (h *AdminHandler) CreateRegistrationToken(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	regToken := guard.Crop(r.FormValue("registration_token"), h.limits.OTP)
	if strings.TrimSpace(regToken) == "" {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeInvalidRegistrationToken, "Invalid Registration Token given!")
		return
	}

	err := h.regTokens.Insert(regToken)
	if errors.Is(err, store.ErrDuplicateRegistrationToken) {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeInvalidRegistrationToken, "Invalid Registration Token given!")
		return
	}
	if err != nil {
		h.fail(w, "insert registration token", err)
		return
	}

	api.WriteMessage(w, http.StatusOK, api.CodeSavedRegistrationToken, "Registration token Saved!")
}

// CreateResetPasswordToken issues a time-limited recovery code for a
// username. The username is not checked for existence; a token for an
// unknown user simply never validates.
func (h *AdminHandler) CreateResetPasswordToken(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	resetToken := guard.Crop(r.FormValue("reset_password_token"), h.limits.OTP)
	if strings.TrimSpace(resetToken) == "" {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeInvalidResetToken, "Invalid Reset Password Token given!")
		return
	}

	username := guard.Crop(r.FormValue("username_to_reset"), h.limits.Username)
	if strings.TrimSpace(username) == "" {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeInvalidUsernameToEdit, "username_to_reset cannot be empty!")
		return
	}

	if err := h.resetTokens.Insert(resetToken, username, h.minter.ResetPasswordExpiry()); err != nil {
		h.fail(w, "insert reset token", err)
		return
	}

	api.WriteMessage(w, http.StatusOK, api.CodeSavedResetPasswordToken, "Reset Password token Saved!")
}

// ResetUserOTPVerification clears a user's otp_verified flag so their next
// login re-runs enrollment.
func (h *AdminHandler) ResetUserOTPVerification(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	username := guard.Crop(r.FormValue("username_to_reset"), h.limits.Username)
	if strings.TrimSpace(username) == "" {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeInvalidUsernameToEdit, "username_to_reset cannot be empty!")
		return
	}

	user, err := h.users.GetByName(username)
	if err != nil {
		h.fail(w, "load user", err)
		return
	}
	if user == nil {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeUserNotFound, "User cannot be found!")
		return
	}

	if err := h.users.UpdateOTPVerification(user.ID, false); err != nil {
		h.fail(w, "reset otp verification", err)
		return
	}

	api.WriteMessage(w, http.StatusOK, api.CodeResetOTPVerification, "OTP Verification Reset!")
}

func (h *AdminHandler) GetUsers(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	users, err := h.users.List()
	if err != nil {
		h.fail(w, "list users", err)
		return
	}

	type userSummary struct {
		Name       string `json:"name"`
		Privileged bool   `json:"privileged"`
	}
	summaries := make([]userSummary, 0, len(users))
	for _, u := range users {
		summaries = append(summaries, userSummary{Name: u.Name, Privileged: u.Privileged})
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"users": summaries})
}

func (h *AdminHandler) GetRegistrationTokens(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	tokens, err := h.regTokens.List()
	if err != nil {
		h.fail(w, "list registration tokens", err)
		return
	}
	if tokens == nil {
		tokens = []string{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"registration_tokens": tokens})
}

// DeleteUser removes the named user and every session they hold. Idempotent:
// an unknown or missing username still answers success.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	username := guard.Crop(r.FormValue("username_to_delete"), h.limits.Username)
	if username == "" {
		api.WriteMessage(w, http.StatusOK, api.CodeDeletedUser, "User deleted!")
		return
	}

	user, err := h.users.GetByName(username)
	if err != nil {
		h.fail(w, "load user", err)
		return
	}
	if user != nil {
		if err := h.sessions.DeleteAllForUser(user.ID); err != nil {
			h.fail(w, "delete user sessions", err)
			return
		}
		if err := h.users.DeleteByID(user.ID); err != nil {
			h.fail(w, "delete user", err)
			return
		}
	}

	api.WriteMessage(w, http.StatusOK, api.CodeDeletedUser, "User deleted!")
}

// DeleteRegistrationToken removes an invite code. Idempotent.
func (h *AdminHandler) DeleteRegistrationToken(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	regToken := guard.Crop(r.FormValue("registration_token"), h.limits.OTP)
	if regToken != "" {
		if err := h.regTokens.Delete(regToken); err != nil {
			h.fail(w, "delete registration token", err)
			return
		}
	}
	api.WriteMessage(w, http.StatusOK, api.CodeDeletedToken, "Token deleted!")
}

func (h *AdminHandler) fail(w http.ResponseWriter, action string, err error) {
	h.logger.Error(action, "error", err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}
