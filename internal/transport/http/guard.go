package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/httputil"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
)

// Processor runs the security pipeline.
type Processor interface {
	Process(ctx context.Context, req *domain.SecurityRequest) *domain.SecurityResponse
}

type decisionKey struct{}

// Decision is what the guard hands to the protected handler.
type Decision struct {
	Response *domain.SecurityResponse
	// JSONBody reports whether the original body was decoded as JSON.
	JSONBody bool
	Raw      []byte
}

// DecisionFromContext returns the allowed decision stored by the guard.
func DecisionFromContext(ctx context.Context) (*Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(*Decision)
	return d, ok
}

// Guard runs every request through p. Denied requests are answered here;
// allowed ones reach next with the decision in their context.
func Guard(p Processor, reader *RequestReader, errs *httputil.ErrorResponseWriter) func(http.Handler) http.Handler {
	if errs == nil {
		errs = httputil.DefaultErrorResponseWriter()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req, raw, err := reader.Read(r)
			if err != nil {
				logger.WithContext(r.Context()).Warn("failed to read request", logger.Err(err))
				errs.WriteError(w, r, http.StatusBadRequest, "unable to read request", "", "")
				return
			}

			resp := p.Process(r.Context(), req)
			writeSecurityHeaders(w, resp)

			if !resp.Allowed {
				status := StatusForDecision(resp)
				errs.WriteError(w, r, status, messageForStatus(status), resp.Reason, resp.AuditID)
				return
			}

			_, isString := req.Body.(string)
			d := &Decision{
				Response: resp,
				JSONBody: req.Body != nil && !isString && isJSON(r.Header.Get("Content-Type")),
				Raw:      raw,
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), decisionKey{}, d)))
		})
	}
}

func writeSecurityHeaders(w http.ResponseWriter, resp *domain.SecurityResponse) {
	h := w.Header()
	for k, v := range resp.Headers {
		h.Set(k, v)
	}
	if resp.RateLimit > 0 {
		h.Set("X-RateLimit-Limit", strconv.Itoa(resp.RateLimit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(resp.RateLimitRemaining))
	}
	if resp.AuditID != "" {
		h.Set("X-Audit-ID", resp.AuditID)
	}
}

// StatusForDecision maps a denial to an HTTP status.
func StatusForDecision(resp *domain.SecurityResponse) int {
	if resp.Allowed {
		return http.StatusOK
	}
	if resp.Reason == domain.ReasonMiddlewareError {
		return http.StatusInternalServerError
	}
	switch resp.Stage {
	case domain.StageRateLimit:
		return http.StatusTooManyRequests
	case domain.StageSessionCheck:
		return http.StatusUnauthorized
	case domain.StageThreatScan, domain.StagePermissionCheck:
		return http.StatusForbidden
	case domain.StageInputValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func messageForStatus(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "rate limit exceeded"
	case http.StatusUnauthorized:
		return "authentication required"
	case http.StatusForbidden:
		return "access denied"
	case http.StatusBadRequest:
		return "invalid request"
	default:
		return "internal error"
	}
}
