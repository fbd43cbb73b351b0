package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/store-service/internal/domain"
	"github.com/fjod/go_cart/store-service/internal/metrics"
	"github.com/fjod/go_cart/store-service/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type ctxKey int

const buyerKey ctxKey = iota

// Identity headers set by the auth proxy in front of the service. Credentials
// are validated there; here they are trusted as is.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
)

// AuthMiddleware puts the authenticated buyer into the request context.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
		if err != nil || id <= 0 {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
			return
		}
		buyer := domain.Buyer{ID: id, Email: r.Header.Get(HeaderUserEmail)}
		next.ServeHTTP(w, r.WithContext(withBuyer(r.Context(), buyer)))
	})
}

func withBuyer(ctx context.Context, b domain.Buyer) context.Context {
	return context.WithValue(ctx, buyerKey, b)
}

func getBuyerFromContext(ctx context.Context) (domain.Buyer, bool) {
	b, ok := ctx.Value(buyerKey).(domain.Buyer)
	return b, ok && b.ID > 0
}

// RequestIDMiddleware echoes the request id assigned by middleware.RequestID.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-ID", id)
		}
		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs one line per request and records request metrics
// under the matched route pattern.
func LoggingMiddleware(log *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			took := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.ObserveRequest(route, status, took)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("took", took),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			reqLog := logger.WithTrace(r.Context(), log)
			if status >= http.StatusInternalServerError {
				reqLog.Warn("request failed", fields...)
				return
			}
			reqLog.Debug("request served", fields...)
		})
	}
}
