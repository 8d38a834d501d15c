// Package observability wires optional crash reporting. With no DSN
// configured everything here is a no-op.
package observability

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry initializes the Sentry client. An empty dsn disables reporting.
func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
}

// Flush drains pending events on shutdown.
func Flush() {
	sentry.Flush(2 * time.Second)
}

// Recover returns middleware that reports a panicking request to Sentry,
// logs it, and answers 500. Coding faults surface loudly instead of being
// folded into an authorization error.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					sentry.WithScope(func(scope *sentry.Scope) {
						scope.SetExtra("panic", rec)
						scope.SetExtra("stack", string(debug.Stack()))
						sentry.CaptureMessage("panic in request")
					})
					logger.Error("panic recovered", "path", r.URL.Path, "method", r.Method, "panic", rec)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
