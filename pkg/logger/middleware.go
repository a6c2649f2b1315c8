package logger

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// CorrelationIDMiddleware tags the request context and response with a
// correlation ID. Precedence: X-Correlation-ID, X-Request-ID, chi request ID.
func CorrelationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationIDHeader)
		if id == "" {
			id = r.Header.Get(middleware.RequestIDHeader)
		}
		if id == "" {
			id = middleware.GetReqID(r.Context())
		}
		if id == "" {
			id = "unknown"
		}

		w.Header().Set(CorrelationIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithCorrelationIDLogger(r.Context(), id)))
	})
}
