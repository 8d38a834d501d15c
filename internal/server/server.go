package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/vodauth/internal/config"
	"github.com/dukerupert/vodauth/internal/guard"
	"github.com/dukerupert/vodauth/internal/handler"
	"github.com/dukerupert/vodauth/internal/middleware"
	"github.com/dukerupert/vodauth/internal/observability"
	"github.com/dukerupert/vodauth/internal/otp"
	"github.com/dukerupert/vodauth/internal/store"
	"github.com/dukerupert/vodauth/internal/token"
)

// Server wires the stores, the guard pipeline, and the handlers into one
// router. Pass a nil clock for wall time; tests pass a fixed one.
type Server struct {
	db       *sql.DB
	pipeline *guard.Pipeline
	authH    *handler.AuthHandler
	userH    *handler.UserHandler
	adminH   *handler.AdminHandler
	mediaH   *handler.MediaHandler
	logger   *slog.Logger
}

func New(db *sql.DB, cfg config.Config, now func() time.Time, logger *slog.Logger) *Server {
	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	regTokenStore := store.NewRegistrationTokenStore(db)
	resetTokenStore := store.NewResetTokenStore(db)
	fileMetaStore := store.NewFileMetadataStore(db)
	userFileMetaStore := store.NewUserFileMetadataStore(db)

	minter := &token.Minter{
		ByteCount:  cfg.TokenByteCount,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		ResetTTL:   cfg.ResetTTL,
		Issuer:     cfg.Issuer,
	}
	verifier := otp.NewVerifier()
	if now != nil {
		minter.Now = now
		verifier.Now = now
		sessionStore.SetClock(now)
		resetTokenStore.SetClock(now)
	}

	limits := guard.Limits{
		Username: cfg.MaxUsernameLength,
		Password: cfg.MaxPasswordLength,
		OTP:      cfg.MaxOTPLength,
		Token:    cfg.MaxTokenLength,
		Key:      cfg.MaxKeyLength,
	}

	pipeline := guard.NewPipeline(sessionStore, userStore, verifier, limits, logger.With("component", "guard"))

	return &Server{
		db:       db,
		pipeline: pipeline,
		authH:    handler.NewAuthHandler(userStore, sessionStore, regTokenStore, minter, verifier, limits, logger.With("component", "auth")),
		userH:    handler.NewUserHandler(userStore, sessionStore, resetTokenStore, fileMetaStore, userFileMetaStore, minter, limits, logger.With("component", "user")),
		adminH:   handler.NewAdminHandler(userStore, sessionStore, regTokenStore, resetTokenStore, minter, limits, logger.With("component", "admin")),
		mediaH:   handler.NewMediaHandler(sessionStore, limits, logger.With("component", "media")),
		logger:   logger,
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	p := s.pipeline

	session := p.Session()
	sessionOTP := append(p.Session(), p.OTPVerified())
	sessionOTPPrivileged := append(append(p.Session(), p.OTPVerified()), p.Privileged())
	sessionPrivileged := append(p.Session(), p.Privileged())

	// Auth
	mux.HandleFunc("POST /register", p.Handle(p.UsernamePassword(), s.authH.Register))
	mux.HandleFunc("POST /login", p.Handle(p.UserByNamePassword(), s.authH.Login))
	mux.HandleFunc("POST /otp_verification", p.Handle(p.UserByNamePassword(), s.authH.OTPVerification))
	mux.HandleFunc("POST /logout", s.authH.Logout)
	mux.HandleFunc("POST /refresh/token", s.authH.Refresh)

	// User actions
	mux.HandleFunc("GET /user/is_privileged", p.Handle(session, s.userH.IsPrivileged))
	mux.HandleFunc("POST /change/password", p.Handle(sessionOTP, s.userH.ChangePassword))
	mux.HandleFunc("POST /reset/password", p.Handle(p.UsernamePassword(), s.userH.ResetPassword))
	mux.HandleFunc("POST /user/file/metadata", p.Handle(session, s.userH.AddUserFileMetadata))
	mux.HandleFunc("GET /user/file/metadata", p.Handle(session, s.userH.GetUserFileMetadata))
	mux.HandleFunc("POST /file/metadata", p.Handle(session, s.userH.AddFileMetadata))
	mux.HandleFunc("GET /file/metadata", p.Handle(session, s.userH.GetFileMetadata))

	// Media gate
	mux.HandleFunc("GET /media/access", s.mediaH.Access)

	// Admin
	mux.HandleFunc("POST /admin/registration_token", p.Handle(sessionOTPPrivileged, s.adminH.CreateRegistrationToken))
	mux.HandleFunc("POST /admin/reset_password_token", p.Handle(sessionOTPPrivileged, s.adminH.CreateResetPasswordToken))
	mux.HandleFunc("POST /admin/reset_otp_verification", p.Handle(sessionOTPPrivileged, s.adminH.ResetUserOTPVerification))
	mux.HandleFunc("GET /admin/get_users", p.Handle(sessionPrivileged, s.adminH.GetUsers))
	mux.HandleFunc("GET /admin/get_registration_tokens", p.Handle(sessionPrivileged, s.adminH.GetRegistrationTokens))
	mux.HandleFunc("POST /admin/delete/user", p.Handle(sessionOTPPrivileged, s.adminH.DeleteUser))
	mux.HandleFunc("POST /admin/delete/registration_token", p.Handle(sessionOTPPrivileged, s.adminH.DeleteRegistrationToken))

	mux.HandleFunc("GET /health", s.healthHandler)

	httpLogger := s.logger.With("component", "http")
	return observability.Recover(httpLogger)(middleware.RequestLogger(httpLogger)(mux))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
