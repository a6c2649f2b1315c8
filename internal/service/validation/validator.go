// Package validation checks request shape and strips active content from
// requests that pass the pipeline.
package validation

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
)

// Validation error messages, in the order they are reported.
const (
	MsgInvalidURL         = "Invalid URL format"
	MsgInvalidMethod      = "Invalid HTTP method"
	MsgInvalidContentType = "Invalid or missing content type"
	MsgBodyTooLarge       = "Request body too large"
)

const defaultMaxBodyBytes = 1 << 20

var urlPattern = regexp.MustCompile(`^/api/[A-Za-z0-9/_-]+(\?[A-Za-z0-9=&_-]*)?$`)

// Result is the outcome of Validate. Errors holds every failed check.
type Result struct {
	Valid  bool
	Errors []string
}

// Validator checks URL shape, method, content type and body size.
type Validator struct {
	methods      map[string]bool
	contentTypes []string
	maxBodyBytes int
}

// NewValidator builds a validator from cfg, filling in defaults for unset
// fields.
func NewValidator(cfg config.ValidationConfig) *Validator {
	v := &Validator{
		methods:      make(map[string]bool),
		maxBodyBytes: cfg.MaxBodyBytes,
	}
	if v.maxBodyBytes <= 0 {
		v.maxBodyBytes = defaultMaxBodyBytes
	}

	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	}
	for _, m := range methods {
		v.methods[strings.ToUpper(strings.TrimSpace(m))] = true
	}

	v.contentTypes = cfg.AllowedContentTypes
	if len(v.contentTypes) == 0 {
		v.contentTypes = []string{"application/json", "application/x-www-form-urlencoded", "multipart/form-data"}
	}
	return v
}

// MaxBodyBytes returns the serialized body limit.
func (v *Validator) MaxBodyBytes() int { return v.maxBodyBytes }

// Validate runs every check and collects all failures.
func (v *Validator) Validate(req *domain.SecurityRequest) Result {
	var errs []string

	if !urlPattern.MatchString(req.URL) {
		errs = append(errs, MsgInvalidURL)
	}

	method := strings.ToUpper(req.Method)
	if !v.methods[method] {
		errs = append(errs, MsgInvalidMethod)
	}

	if hasBody(method) && req.Body != nil && !v.contentTypeAllowed(req.Headers.Get("content-type")) {
		errs = append(errs, MsgInvalidContentType)
	}

	if req.Body != nil && BodySize(req.Body) > v.maxBodyBytes {
		errs = append(errs, MsgBodyTooLarge)
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

func hasBody(method string) bool {
	return method == "POST" || method == "PUT" || method == "PATCH"
}

func (v *Validator) contentTypeAllowed(contentType string) bool {
	if contentType == "" {
		return false
	}
	// Parameters like charset are ignored.
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	for _, allowed := range v.contentTypes {
		if strings.EqualFold(strings.TrimSpace(allowed), mediaType) {
			return true
		}
	}
	return false
}

// BodySize returns the length of body serialized as JSON. Values that cannot
// be serialized count as oversized.
func BodySize(body any) int {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return int(^uint(0) >> 1)
	}
	// Encode appends a newline.
	return buf.Len() - 1
}
