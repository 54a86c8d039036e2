package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/screening-workflow-service/internal/observability"
)

type contextKey string

const ctxKeyReviewID contextKey = "review_id"

// userHeader carries the reviewer identity set by the upstream gateway.
const userHeader = "X-User-ID"

// correlationIDMiddleware ensures every request has a correlation ID.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = requestID
		}
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		w.Header().Set("X-Correlation-ID", correlationID)
		ctx := observability.WithCorrelationID(r.Context(), correlationID)
		ctx = observability.WithRequestID(ctx, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs every request once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		level := zerolog.DebugLevel
		if ww.Status() >= http.StatusInternalServerError {
			level = zerolog.WarnLevel
		}
		logger := observability.WithRequestContext(r.Context(), s.logger)
		logger.WithLevel(level).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

// jsonContentTypeMiddleware sets Content-Type: application/json for all responses.
func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// reviewIDMiddleware parses the reviewID path parameter.
func reviewIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(chi.URLParam(r, "reviewID"))
		if !ok {
			writeError(w, http.StatusBadRequest, "reviewID must be a positive integer")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyReviewID, id)))
	})
}

// userIDMiddleware requires the reviewer identity header.
func userIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r.Header.Get(userHeader))
		if !ok {
			writeError(w, http.StatusUnauthorized, userHeader+" header must be a positive integer")
			return
		}
		next.ServeHTTP(w, r.WithContext(observability.WithUserID(r.Context(), id)))
	})
}

func reviewIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(ctxKeyReviewID).(int64)
	return id
}

func userIDFromContext(ctx context.Context) int64 {
	id, _ := observability.UserIDFromContext(ctx)
	return id
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
