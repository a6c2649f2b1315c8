package logger

import (
	"strings"

	"go.uber.org/zap"
)

// MaskConfig configures masking of secrets in log output.
// Kept local to avoid an import cycle with internal/config.
type MaskConfig struct {
	Enabled   bool     `mapstructure:"enabled" jsonschema:"description=Mask secrets in log output.,default=true"`
	MaskValue string   `mapstructure:"mask_value" jsonschema:"default=***"`
	Headers   []string `mapstructure:"headers" jsonschema:"description=Header names whose values are masked."`
	ShowFirst int      `mapstructure:"show_first" jsonschema:"description=Characters left visible at the start of long values.,default=4"`
}

// Masker hides credentials and session tokens before they reach a sink.
type Masker struct {
	cfg       MaskConfig
	headerSet map[string]struct{}
}

var globalMasker *Masker

// InitMasker installs the global masker.
func InitMasker(cfg MaskConfig) {
	globalMasker = NewMasker(cfg)
}

// NewMasker creates a masker. Header names are matched case-insensitively.
func NewMasker(cfg MaskConfig) *Masker {
	if cfg.MaskValue == "" {
		cfg.MaskValue = "***"
	}
	m := &Masker{cfg: cfg, headerSet: make(map[string]struct{}, len(cfg.Headers))}
	for _, h := range cfg.Headers {
		m.headerSet[strings.ToLower(h)] = struct{}{}
	}
	return m
}

// MaskString masks a secret, keeping ShowFirst leading characters when the
// value is long enough that the prefix does not reveal it.
func (m *Masker) MaskString(value string) string {
	if !m.cfg.Enabled || value == "" {
		return value
	}
	if m.cfg.ShowFirst > 0 && len(value) > m.cfg.ShowFirst*4 {
		return value[:m.cfg.ShowFirst] + m.cfg.MaskValue
	}
	return m.cfg.MaskValue
}

// MaskToken masks a versioned session token ("<version>.<payload>"),
// keeping the version visible for key-rotation debugging. A "Bearer "
// prefix is preserved.
func (m *Masker) MaskToken(token string) string {
	if !m.cfg.Enabled || token == "" {
		return token
	}
	prefix := ""
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		prefix, token = token[:7], token[7:]
	}
	if idx := strings.IndexByte(token, '.'); idx > 0 {
		return prefix + token[:idx] + "." + m.cfg.MaskValue
	}
	return prefix + m.cfg.MaskValue
}

// IsSensitiveHeader reports whether the header value must be masked.
func (m *Masker) IsSensitiveHeader(name string) bool {
	if !m.cfg.Enabled {
		return false
	}
	_, ok := m.headerSet[strings.ToLower(name)]
	return ok
}

// MaskHeaders returns a copy of headers with sensitive values masked.
func (m *Masker) MaskHeaders(headers map[string]string) map[string]string {
	if !m.cfg.Enabled || headers == nil {
		return headers
	}
	masked := make(map[string]string, len(headers))
	for k, v := range headers {
		if m.IsSensitiveHeader(k) {
			masked[k] = m.MaskToken(v)
			continue
		}
		masked[k] = v
	}
	return masked
}

// Token creates a zap field for a session token, masked when a global
// masker is installed.
func Token(key, value string) zap.Field {
	if globalMasker != nil {
		return zap.String(key, globalMasker.MaskToken(value))
	}
	return zap.String(key, value)
}

// Headers creates a zap field for a header map with sensitive values masked.
func Headers(headers map[string]string) zap.Field {
	if globalMasker != nil {
		return zap.Any("headers", globalMasker.MaskHeaders(headers))
	}
	return zap.Any("headers", headers)
}
