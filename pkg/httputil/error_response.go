// Package httputil writes error and denial responses in the configured format.
package httputil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
)

// ErrorData holds the fields of an error response.
type ErrorData struct {
	StatusCode int       `json:"status_code"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	Reason     string    `json:"reason,omitempty"`
	AuditID    string    `json:"audit_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Path       string    `json:"path,omitempty"`
	Method     string    `json:"method,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// ErrorResponseWriter writes error responses in configured format.
type ErrorResponseWriter struct {
	cfg config.ErrorResponseConfig
}

// NewErrorResponseWriter creates a new error response writer.
func NewErrorResponseWriter(cfg config.ErrorResponseConfig) *ErrorResponseWriter {
	return &ErrorResponseWriter{cfg: cfg}
}

// DefaultErrorResponseWriter returns a writer with default JSON configuration.
func DefaultErrorResponseWriter() *ErrorResponseWriter {
	return NewErrorResponseWriter(config.ErrorResponseConfig{
		Format:           config.ErrorFormatJSON,
		IncludeRequestID: true,
		IncludeReason:    true,
	})
}

// WriteError writes an error response. reason and auditID may be empty.
func (w *ErrorResponseWriter) WriteError(rw http.ResponseWriter, r *http.Request, statusCode int, message, reason, auditID string) {
	data := w.buildErrorData(r, statusCode, message, reason, auditID)

	for key, value := range w.cfg.Headers {
		rw.Header().Set(key, value)
	}

	switch w.cfg.Format {
	case config.ErrorFormatText:
		w.writeText(rw, data)
	case config.ErrorFormatRFC7807:
		w.writeRFC7807(rw, data)
	default:
		w.writeJSON(rw, data)
	}
}

func (w *ErrorResponseWriter) buildErrorData(r *http.Request, statusCode int, message, reason, auditID string) ErrorData {
	data := ErrorData{
		StatusCode: statusCode,
		Status:     http.StatusText(statusCode),
		Message:    message,
		AuditID:    auditID,
	}

	if w.cfg.IncludeReason {
		data.Reason = reason
	}
	if w.cfg.IncludeRequestID {
		data.RequestID = RequestID(r)
	}
	if w.cfg.IncludePath {
		data.Path = r.URL.Path
		data.Method = r.Method
	}
	if w.cfg.IncludeTimestamp {
		data.Timestamp = time.Now().UTC()
	}

	return data
}

func (w *ErrorResponseWriter) writeJSON(rw http.ResponseWriter, data ErrorData) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(data.StatusCode)

	response := map[string]any{
		"error":   toSnakeCase(data.Status),
		"status":  data.StatusCode,
		"message": data.Message,
	}
	if data.Reason != "" {
		response["reason"] = data.Reason
	}
	if data.AuditID != "" {
		response["audit_id"] = data.AuditID
	}
	if data.RequestID != "" {
		response["request_id"] = data.RequestID
	}
	if data.Path != "" {
		response["path"] = data.Path
		response["method"] = data.Method
	}
	if !data.Timestamp.IsZero() {
		response["timestamp"] = data.Timestamp.Format(time.RFC3339)
	}

	if err := json.NewEncoder(rw).Encode(response); err != nil {
		logger.Error("failed to encode error response", logger.Err(err))
	}
}

func (w *ErrorResponseWriter) writeText(rw http.ResponseWriter, data ErrorData) {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(data.StatusCode)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %s: %s", data.StatusCode, data.Status, data.Message)
	if data.Reason != "" {
		fmt.Fprintf(&buf, " (%s)", data.Reason)
	}
	if data.RequestID != "" {
		fmt.Fprintf(&buf, " [request_id=%s]", data.RequestID)
	}
	_, _ = buf.WriteTo(rw)
}

func (w *ErrorResponseWriter) writeRFC7807(rw http.ResponseWriter, data ErrorData) {
	rw.Header().Set("Content-Type", "application/problem+json; charset=utf-8")
	rw.WriteHeader(data.StatusCode)

	response := map[string]any{
		"type":   "about:blank",
		"title":  data.Status,
		"status": data.StatusCode,
		"detail": data.Message,
	}
	if data.Reason != "" {
		response["reason"] = data.Reason
	}
	if data.AuditID != "" {
		response["audit_id"] = data.AuditID
	}
	if data.RequestID != "" {
		response["instance"] = fmt.Sprintf("urn:request:%s", data.RequestID)
	}
	if data.Path != "" {
		response["path"] = data.Path
	}

	if err := json.NewEncoder(rw).Encode(response); err != nil {
		logger.Error("failed to encode problem response", logger.Err(err))
	}
}

// RequestID returns the caller's request ID, falling back to the one chi
// assigned.
func RequestID(r *http.Request) string {
	if id := r.Header.Get(middleware.RequestIDHeader); id != "" {
		return id
	}
	if id := r.Header.Get(logger.CorrelationIDHeader); id != "" {
		return id
	}
	return middleware.GetReqID(r.Context())
}

// toSnakeCase converts "Bad Request" to "bad_request".
func toSnakeCase(s string) string {
	var result bytes.Buffer
	for _, c := range s {
		switch {
		case c == ' ' || c == '-':
			result.WriteByte('_')
		case c >= 'A' && c <= 'Z':
			result.WriteRune(c + 32)
		default:
			result.WriteRune(c)
		}
	}
	return result.String()
}
