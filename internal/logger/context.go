package logger

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

// LoggerKey is the context key for the request logger.
const LoggerKey contextKey = "logger"

// NewParserID returns a fresh identifier for a parser instance.
func NewParserID() string {
	return uuid.New().String()
}

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, l)
}

// FromContext retrieves the logger from context.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(LoggerKey).(Logger); ok {
		return l
	}
	return NewLogrusAdapter(logrus.NewEntry(logrus.StandardLogger()))
}

// RequestLoggerMiddleware logs each request on the diagnostics endpoint and
// stores a request-scoped logger in its context.
func RequestLoggerMiddleware(base *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			entry := base.WithFields(logrus.Fields{
				"request_id": requestID,
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			entry.Debug("Request started")

			ctx := WithLogger(r.Context(), NewLogrusAdapter(entry))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
