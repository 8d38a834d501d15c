package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/vodauth/internal/api"
	"github.com/dukerupert/vodauth/internal/guard"
	"github.com/dukerupert/vodauth/internal/store"
	"github.com/dukerupert/vodauth/internal/token"
)

// UserHandler owns the endpoints an authenticated user calls about
// themselves: password management and file-metadata glue.
type UserHandler struct {
	users        *store.UserStore
	sessions     *store.SessionStore
	resetTokens  *store.ResetTokenStore
	fileMeta     *store.FileMetadataStore
	userFileMeta *store.UserFileMetadataStore
	minter       *token.Minter
	limits       guard.Limits
	logger       *slog.Logger
}

func NewUserHandler(
	us *store.UserStore,
	ss *store.SessionStore,
	rts *store.ResetTokenStore,
	fms *store.FileMetadataStore,
	ufms *store.UserFileMetadataStore,
	minter *token.Minter,
	limits guard.Limits,
	logger *slog.Logger,
) *UserHandler {
	return &UserHandler{
		users:        us,
		sessions:     ss,
		resetTokens:  rts,
		fileMeta:     fms,
		userFileMeta: ufms,
		minter:       minter,
		limits:       limits,
		logger:       logger,
	}
}

// ChangePassword re-verifies the current password, stores the new one, and
// collapses the user down to a single fresh session.
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	r.ParseForm()
	password, ok := guard.FormValue(r, "password")
	if !ok {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeInvalidPassword, "Invalid Password!")
		return
	}
	password = guard.Crop(password, h.limits.Password)

	newPassword, ok := guard.FormValue(r, "new_password")
	if !ok {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeInvalidNewPassword, "New Password cannot be empty!")
		return
	}
	newPassword = guard.Crop(newPassword, h.limits.Password)

	found, err := h.users.GetByNameAndPassword(gc.User.Name, password)
	if err != nil {
		h.fail(w, "verify password", err)
		return
	}
	if found == nil {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeInvalidPassword, "Invalid Password!")
		return
	}

	sess, err := h.minter.Session(gc.User.ID)
	if err != nil {
		h.fail(w, "mint session", err)
		return
	}
	if err := h.users.UpdatePassword(gc.User.ID, newPassword); err != nil {
		h.fail(w, "update password", err)
		return
	}
	if err := h.sessions.ReplaceSingle(sess); err != nil {
		h.fail(w, "replace session", err)
		return
	}

	api.WriteJSON(w, http.StatusOK, newSessionResponse(sess, true))
}

// ResetPassword consumes a reset token for the named user. Success burns
// every outstanding reset token for that username.
func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	resetToken := guard.Crop(r.FormValue("reset_password_token"), h.limits.OTP)
	if resetToken == "" {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeUnknownResetToken, "Invalid Reset Password Token given!")
		return
	}

	valid, err := h.resetTokens.IsValid(resetToken, gc.Username)
	if err != nil {
		h.fail(w, "validate reset token", err)
		return
	}
	if !valid {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeUnknownResetToken, "Invalid Reset Password Token given!")
		return
	}

	user, err := h.users.GetByName(gc.Username)
	if err != nil {
		h.fail(w, "load user", err)
		return
	}
	if user == nil {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeUserNotFound, "User cannot be found!")
		return
	}

	if err := h.users.UpdatePassword(user.ID, gc.Password); err != nil {
		h.fail(w, "update password", err)
		return
	}
	if err := h.resetTokens.InvalidateAll(gc.Username); err != nil {
		h.fail(w, "invalidate reset tokens", err)
		return
	}

	api.WriteMessage(w, http.StatusOK, api.CodeSavedPassword, "Password was Saved!")
}

func (h *UserHandler) IsPrivileged(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	api.WriteJSON(w, http.StatusOK, map[string]bool{"is_privileged": gc.User.Privileged})
}

func (h *UserHandler) AddUserFileMetadata(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	var metadata map[string]string
	if err := json.NewDecoder(r.Body).Decode(&metadata); err != nil || metadata == nil {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeCantSaveUserFileMetadata, "Couldn't save user's metadata!")
		return
	}
	if err := h.userFileMeta.Put(gc.User.ID, metadata); err != nil {
		h.fail(w, "save user metadata", err)
		return
	}
	api.WriteMessage(w, http.StatusOK, api.CodeSavedUserFileMetadata, "User's File MetaData Saved!")
}

func (h *UserHandler) GetUserFileMetadata(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	metadata, err := h.userFileMeta.Get(gc.User.ID)
	if err != nil {
		h.fail(w, "load user metadata", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, metadata)
}

func (h *UserHandler) AddFileMetadata(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	var metadata map[string]string
	if err := json.NewDecoder(r.Body).Decode(&metadata); err != nil || metadata == nil {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeCantSaveFileMetadata, "Couldn't save metadata!")
		return
	}
	if err := h.fileMeta.Put(metadata); err != nil {
		h.fail(w, "save metadata", err)
		return
	}
	api.WriteMessage(w, http.StatusOK, api.CodeSavedFileMetadata, "File MetaData Saved!")
}

func (h *UserHandler) GetFileMetadata(w http.ResponseWriter, r *http.Request, gc *guard.Context) {
	fileKey := guard.Crop(r.URL.Query().Get("file_key"), h.limits.Key)
	if fileKey == "" {
		api.WriteMessage(w, http.StatusBadRequest, api.CodeInvalidFileKey, "Invalid FileKey (file_key)!")
		return
	}
	metadata, err := h.fileMeta.Get(fileKey)
	if err != nil {
		h.fail(w, "load metadata", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, metadata)
}

func (h *UserHandler) fail(w http.ResponseWriter, action string, err error) {
	h.logger.Error(action, "error", err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}
