package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/vodauth/internal/config"
	"github.com/dukerupert/vodauth/internal/database"
	"github.com/dukerupert/vodauth/internal/logging"
	"github.com/dukerupert/vodauth/internal/model"
	"github.com/dukerupert/vodauth/internal/observability"
	"github.com/dukerupert/vodauth/internal/server"
	"github.com/dukerupert/vodauth/internal/store"
	"github.com/dukerupert/vodauth/internal/token"
)

func main() {
	adminUser := flag.String("init-admin-user", "", "create a privileged user with this name and exit")
	adminPass := flag.String("init-admin-pass", "", "password for -init-admin-user")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Environment); err != nil {
		logger.Error("init sentry", "error", err)
	}
	defer observability.Flush()

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if *adminUser != "" {
		if err := initAdmin(db, cfg, *adminUser, *adminPass); err != nil {
			log.Fatalf("init admin: %v", err)
		}
		return
	}

	srv := server.New(db, cfg, nil, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("vodauth listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}

// initAdmin bootstraps the first privileged account directly in the store
// and prints its provisioning URI, since registration needs an admin-issued
// token to begin with.
func initAdmin(db *sql.DB, cfg config.Config, name, password string) error {
	if password == "" {
		return fmt.Errorf("-init-admin-pass is required")
	}

	minter := &token.Minter{ByteCount: cfg.TokenByteCount, Issuer: cfg.Issuer}
	secret, err := minter.OTPSecret()
	if err != nil {
		return err
	}

	users := store.NewUserStore(db)
	if _, err := users.Insert(model.RegisteringUser{
		Name:       name,
		Password:   password,
		OTPSecret:  secret,
		Privileged: true,
	}); err != nil {
		return err
	}

	fmt.Printf("created privileged user %q\notp provisioning uri: %s\n", name, minter.ProvisioningURI(name, secret))
	return nil
}
