package validation

import (
	"regexp"
	"sort"
	"strings"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
)

var (
	scriptElement = regexp.MustCompile(`(?is)<\s*script\b[^>]*>.*?<\s*/\s*script\s*>`)
	scriptTag     = regexp.MustCompile(`(?i)<\s*/?\s*script\b[^>]*>`)
	activeScheme  = regexp.MustCompile(`(?i)(?:javascript|vbscript)\s*:|data\s*:\s*text/html`)
	eventHandler  = regexp.MustCompile(`(?i)\bon(?:load|error|click|mouseover|mouseout|focus|blur|change|submit|keydown|keyup|keypress|input|abort|unload|resize|scroll)\s*=`)
)

var defaultAllowedHeaders = []string{
	"authorization", "content-type", "accept", "user-agent", "x-forwarded-for", "x-real-ip",
}

// Sanitizer strips script content from strings, JSON values and headers.
type Sanitizer struct {
	allowedHeaders map[string]bool
}

// NewSanitizer creates a sanitizer that keeps only allowedHeaders. An empty
// list selects the built-in allow-list.
func NewSanitizer(allowedHeaders []string) *Sanitizer {
	if len(allowedHeaders) == 0 {
		allowedHeaders = defaultAllowedHeaders
	}
	s := &Sanitizer{allowedHeaders: make(map[string]bool, len(allowedHeaders))}
	for _, h := range allowedHeaders {
		s.allowedHeaders[strings.ToLower(strings.TrimSpace(h))] = true
	}
	return s
}

// SanitizeString removes script elements, active URL schemes and inline
// event handlers, repeating until nothing changes, then trims whitespace.
// The result is a fixed point: sanitizing it again returns it unchanged.
// Every pass only removes text, so a pass that changes s shortens it and the
// loop terminates.
func SanitizeString(s string) string {
	for {
		next := scriptElement.ReplaceAllString(s, "")
		next = scriptTag.ReplaceAllString(next, "")
		next = activeScheme.ReplaceAllString(next, "")
		next = eventHandler.ReplaceAllString(next, "")
		next = strings.TrimSpace(next)
		if next == s {
			return s
		}
		s = next
	}
}

// Sanitize walks a decoded JSON value and sanitizes every string, including
// object keys. The input is not modified. When two keys collapse to the
// same sanitized key, the one that sorts first is kept.
func (s *Sanitizer) Sanitize(v any) any {
	switch t := v.(type) {
	case string:
		return SanitizeString(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = s.Sanitize(e)
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make(map[string]any, len(t))
		for _, k := range keys {
			clean := SanitizeString(k)
			if _, exists := out[clean]; exists {
				continue
			}
			out[clean] = s.Sanitize(t[k])
		}
		return out
	default:
		return v
	}
}

// SanitizeHeaders keeps allow-listed headers only and strips script content
// from their values.
func (s *Sanitizer) SanitizeHeaders(h domain.Headers) domain.Headers {
	out := make(domain.Headers, len(h))
	for k, v := range h {
		k = strings.ToLower(k)
		if s.allowedHeaders[k] {
			out[k] = SanitizeString(v)
		}
	}
	return out
}

// SanitizeRequest returns a sanitized copy of req. The context is copied
// unchanged.
func (s *Sanitizer) SanitizeRequest(req *domain.SecurityRequest) *domain.SecurityRequest {
	out := &domain.SecurityRequest{
		URL:     req.URL,
		Method:  req.Method,
		Headers: s.SanitizeHeaders(req.Headers),
		Context: req.Context.WithTimestamp(req.Context.Timestamp),
	}
	if req.Body != nil {
		out.Body = s.Sanitize(req.Body)
	}
	return out
}
