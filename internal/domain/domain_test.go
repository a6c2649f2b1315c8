package domain

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// PermissionSet Tests
// =============================================================================

func TestPermissionSet_Basics(t *testing.T) {
	s := NewPermissionSet("read:questoes", " ", "admin", "read:questoes")

	assert.Len(t, s, 2)
	assert.True(t, s.Has("admin"))
	assert.False(t, s.Has(""))
	assert.Equal(t, []string{"admin", "read:questoes"}, s.Slice())
}

func TestPermissionSet_Missing(t *testing.T) {
	user := NewPermissionSet("read:questoes")
	required := NewPermissionSet("write:questoes", "read:questoes", "admin")

	assert.Equal(t, []string{"admin", "write:questoes"}, user.Missing(required))
	assert.Empty(t, required.Missing(user))
}

func TestPermissionSet_CloneIsIndependent(t *testing.T) {
	s := NewPermissionSet("a")
	c := s.Clone()
	c["b"] = struct{}{}

	assert.False(t, s.Has("b"))
}

func TestPermissionSet_JSON(t *testing.T) {
	data, err := json.Marshal(NewPermissionSet("b", "a"))
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, string(data))

	var s PermissionSet
	require.NoError(t, json.Unmarshal([]byte(`["x","y"]`), &s))
	assert.True(t, s.Has("x"))
	assert.True(t, s.Has("y"))
}

// =============================================================================
// SecurityContext Tests
// =============================================================================

func TestNewSecurityContext_CopiesPermissions(t *testing.T) {
	perms := []string{"read:questoes"}
	ctx := NewSecurityContext("u1", "s1", "10.0.0.1", "ua", time.Now(), perms, 0.3)
	perms[0] = "admin"

	assert.True(t, ctx.Permissions.Has("read:questoes"))
	assert.False(t, ctx.Permissions.Has("admin"))
	assert.Equal(t, "u1:10.0.0.1", ctx.RateKey())
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, ClampScore(-2))
	assert.Equal(t, 1.0, ClampScore(3))
	assert.Equal(t, 0.4, ClampScore(0.4))
	assert.Equal(t, 1.0, ClampScore(math.NaN()))
}

// =============================================================================
// SecurityRequest Tests
// =============================================================================

func TestHeaders_CaseInsensitive(t *testing.T) {
	h := NewHeaders(map[string]string{"Content-Type": "application/json", "X-Real-IP": "1.2.3.4"})

	assert.Equal(t, "application/json", h.Get("content-type"))
	assert.Equal(t, "application/json", h.Get("CONTENT-TYPE"))
	assert.Equal(t, []string{"content-type", "x-real-ip"}, h.Names())
}

func TestSecurityRequest_BearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer v1.abc", "v1.abc"},
		{"bearer   v2.xyz ", "v2.xyz"},
		{"Basic dXNlcjpwYXNz", ""},
		{"Bearer", ""},
		{"", ""},
	}

	for _, tt := range tests {
		req := &SecurityRequest{Headers: NewHeaders(map[string]string{"Authorization": tt.header})}
		assert.Equal(t, tt.want, req.BearerToken(), tt.header)
	}
}

func TestSecurityRequest_UserAgentFallback(t *testing.T) {
	req := &SecurityRequest{Headers: NewHeaders(map[string]string{"User-Agent": "from-header"})}
	assert.Equal(t, "from-header", req.UserAgent())

	req.Context.UserAgent = "from-context"
	assert.Equal(t, "from-context", req.UserAgent())
}

// =============================================================================
// Decision Tests
// =============================================================================

func TestReasonFormatting(t *testing.T) {
	assert.Equal(t, "THREAT_DETECTED:MALICIOUS_URL", ThreatReason("MALICIOUS_URL"))
	assert.Equal(t, "SESSION_INVALID:SESSION_EXPIRED", SessionInvalidReason(SessionExpired))
	assert.Equal(t, "INPUT_VALIDATION_FAILED:Invalid URL format, Invalid HTTP method",
		ValidationReason([]string{"Invalid URL format", "Invalid HTTP method"}))
}

func TestDenyAndAllow_CarrySecurityHeaders(t *testing.T) {
	deny := Deny(StageRateLimit, ReasonRateLimitExceeded)
	assert.False(t, deny.Allowed)
	assert.Nil(t, deny.Request)
	assert.Equal(t, "DENY", deny.Headers["X-Frame-Options"])

	allow := Allow(&SecurityRequest{URL: "/api/x"})
	assert.True(t, allow.Allowed)
	assert.Equal(t, StageAllowed, allow.Stage)
	assert.Equal(t, "nosniff", allow.Headers["X-Content-Type-Options"])
	assert.NotContains(t, allow.Headers["Content-Security-Policy"], "unsafe-inline")

	// Each response owns its header map.
	allow.Headers["X-Frame-Options"] = "SAMEORIGIN"
	assert.Equal(t, "DENY", deny.Headers["X-Frame-Options"])
}

// =============================================================================
// Audit Tests
// =============================================================================

func TestNewAuditRecord(t *testing.T) {
	sctx := NewSecurityContext("u1", "s1", "10.0.0.1", "ua", time.Now(), nil, 0)
	rec := NewAuditRecord(AuditEventThreatDetected, sctx)

	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, SeverityHigh, rec.Severity)
	assert.True(t, rec.IsDenial())
	assert.False(t, rec.Timestamp.IsZero())

	rec.SetMetadata("threat_type", "MALICIOUS_URL")
	assert.Equal(t, "MALICIOUS_URL", rec.Metadata["threat_type"])
}

func TestAuditRecord_IsDenial(t *testing.T) {
	assert.False(t, (&AuditRecord{Event: AuditEventRequestAllowed}).IsDenial())
	assert.False(t, (&AuditRecord{Event: AuditEventAuditCompleted}).IsDenial())
	assert.True(t, (&AuditRecord{Event: AuditEventMiddlewareError}).IsDenial())
}

func TestSeverity_Penalty(t *testing.T) {
	assert.Equal(t, 20, SeverityCritical.Penalty())
	assert.Equal(t, 10, SeverityHigh.Penalty())
	assert.Equal(t, 5, SeverityMedium.Penalty())
	assert.Equal(t, 0, SeverityLow.Penalty())
	assert.Equal(t, 0, SeverityInfo.Penalty())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
}
