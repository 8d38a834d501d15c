package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/vodauth/internal/api"
	"github.com/dukerupert/vodauth/internal/guard"
	"github.com/dukerupert/vodauth/internal/store"
)

// MediaHandler answers the media-gate check a fronting file server delegates
// to before streaming content.
type MediaHandler struct {
	sessions *store.SessionStore
	limits   guard.Limits
	logger   *slog.Logger
}

func NewMediaHandler(ss *store.SessionStore, limits guard.Limits, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{sessions: ss, limits: limits, logger: logger}
}

// Access validates the Media-Authorization bearer. The media credential
// lives and dies with the session's access expiry.
func (h *MediaHandler) Access(w http.ResponseWriter, r *http.Request) {
	mediaToken := guard.Crop(r.Header.Get("Media-Authorization"), h.limits.Token)
	if mediaToken == "" {
		api.WriteMessage(w, http.StatusUnauthorized, api.CodeMissingMediaAuth, "Missing Authorization!")
		return
	}

	_, ok, err := h.sessions.UserIDByMediaToken(mediaToken)
	if err != nil {
		h.logger.Error("resolve media token", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !ok {
		api.WriteMessage(w, http.StatusUnauthorized, api.CodeInvalidMediaAuth, "Invalid Authorization!")
		return
	}

	api.WriteMessage(w, http.StatusOK, api.CodeMediaAccessGranted, "Access Granted")
}
