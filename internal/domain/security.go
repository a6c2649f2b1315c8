package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Well-known permissions.
const (
	PermissionAdmin         = "admin"
	PermissionAuthenticated = "authenticated"
)

// PermissionSet is an immutable set of permission strings.
// Treat values as read-only once constructed; use Clone before mutating.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set, ignoring empty entries.
func NewPermissionSet(perms ...string) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p != "" {
			s[p] = struct{}{}
		}
	}
	return s
}

// Has reports membership.
func (s PermissionSet) Has(perm string) bool {
	_, ok := s[perm]
	return ok
}

// Slice returns the permissions sorted.
func (s PermissionSet) Slice() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (s PermissionSet) Clone() PermissionSet {
	c := make(PermissionSet, len(s))
	for p := range s {
		c[p] = struct{}{}
	}
	return c
}

// Missing returns the members of required not present in s, sorted.
func (s PermissionSet) Missing(required PermissionSet) []string {
	var missing []string
	for p := range required {
		if !s.Has(p) {
			missing = append(missing, p)
		}
	}
	sort.Strings(missing)
	return missing
}

// MarshalJSON encodes the set as a sorted array.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes a JSON array into the set.
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var perms []string
	if err := json.Unmarshal(data, &perms); err != nil {
		return err
	}
	*s = NewPermissionSet(perms...)
	return nil
}

// SecurityContext is the caller identity attached to every request.
type SecurityContext struct {
	UserID      string        `json:"user_id"`
	SessionID   string        `json:"session_id,omitempty"`
	IPAddress   string        `json:"ip_address"`
	UserAgent   string        `json:"user_agent,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	Permissions PermissionSet `json:"permissions,omitempty"`
	RiskScore   float64       `json:"risk_score"`
}

// NewSecurityContext builds a context with a private copy of perms and a
// risk score clamped to [0, 1].
func NewSecurityContext(userID, sessionID, ip, userAgent string, ts time.Time, perms []string, risk float64) SecurityContext {
	return SecurityContext{
		UserID:      userID,
		SessionID:   sessionID,
		IPAddress:   ip,
		UserAgent:   userAgent,
		Timestamp:   ts,
		Permissions: NewPermissionSet(perms...),
		RiskScore:   ClampScore(risk),
	}
}

// RateKey identifies the caller for rate limiting.
func (c SecurityContext) RateKey() string {
	return c.UserID + ":" + c.IPAddress
}

// WithTimestamp returns a copy with ts as its timestamp.
func (c SecurityContext) WithTimestamp(ts time.Time) SecurityContext {
	c.Timestamp = ts
	c.Permissions = c.Permissions.Clone()
	return c
}

// ClampScore forces a score into [0, 1].
func ClampScore(v float64) float64 {
	switch {
	case v != v: // NaN
		return 1
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Headers is a header map with lower-case keys.
type Headers map[string]string

// NewHeaders copies h, lower-casing keys. Later duplicates win.
func NewHeaders(h map[string]string) Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Get looks a header up case-insensitively.
func (h Headers) Get(name string) string {
	return h[strings.ToLower(name)]
}

// Names returns the header names sorted.
func (h Headers) Names() []string {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// SecurityRequest is the unit of work processed by the pipeline.
// Body holds decoded JSON: nil, string, float64, bool, []any or map[string]any.
type SecurityRequest struct {
	URL     string          `json:"url"`
	Method  string          `json:"method"`
	Headers Headers         `json:"headers"`
	Body    any             `json:"body,omitempty"`
	Context SecurityContext `json:"context"`
}

// UserAgent prefers the context value and falls back to the header.
func (r *SecurityRequest) UserAgent() string {
	if r.Context.UserAgent != "" {
		return r.Context.UserAgent
	}
	return r.Headers.Get("user-agent")
}

// BearerToken extracts the token from the authorization header.
func (r *SecurityRequest) BearerToken() string {
	auth := strings.TrimSpace(r.Headers.Get("authorization"))
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}
