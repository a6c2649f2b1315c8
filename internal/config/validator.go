package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// ValidationError contains detailed information about a validation error.
type ValidationError struct {
	Field   string
	Message string
	Details []string
}

func (e ValidationError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("%s: %s\n    - %s", e.Field, e.Message, strings.Join(e.Details, "\n    - "))
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

// Validate checks cross-field constraints that defaults cannot express.
func Validate(cfg *Config) error {
	var errs ValidationErrors
	add := func(field, msg string, details ...string) {
		errs = append(errs, ValidationError{Field: field, Message: msg, Details: details})
	}

	if cfg.RateLimit.Window <= 0 {
		add("rate_limit.window", "must be positive")
	}
	if cfg.RateLimit.MaxRequests <= 0 {
		add("rate_limit.max_requests", "must be positive")
	}
	if !oneOf(cfg.RateLimit.Store, "memory", "redis") {
		add("rate_limit.store", "unknown store", "supported: memory, redis")
	}

	if cfg.Auth.SessionTimeout <= 0 {
		add("auth.session_timeout", "must be positive")
	}
	if cfg.Auth.AnomalyThreshold < 0 || cfg.Auth.AnomalyThreshold > 1 {
		add("auth.anomaly_threshold", "must be within [0, 1]")
	}
	if cfg.Auth.ValidationTimeout <= 0 {
		add("auth.validation_timeout", "must be positive")
	}
	if !oneOf(cfg.Auth.ActivityStore, "memory", "redis") {
		add("auth.activity_store", "unknown store", "supported: memory, redis")
	}

	if !oneOf(cfg.Encryption.Algorithm, "AES-256-GCM", "ChaCha20-Poly1305") {
		add("encryption.algorithm", "unsupported algorithm", "supported: AES-256-GCM, ChaCha20-Poly1305")
	}
	if cfg.Encryption.KeyRotation <= 0 {
		add("encryption.key_rotation", "must be positive")
	} else if cfg.Encryption.KeyRotation <= cfg.Auth.SessionTimeout {
		add("encryption.key_rotation", "must exceed auth.session_timeout",
			"a key must outlive the sessions it encrypts")
	}
	if _, err := cfg.Encryption.EpochTime(); err != nil {
		add("encryption.epoch", "must be an RFC 3339 timestamp", err.Error())
	}
	if cfg.Encryption.MasterKey != "" {
		raw, err := base64.StdEncoding.DecodeString(cfg.Encryption.MasterKey)
		if err != nil {
			add("encryption.master_key", "must be base64", err.Error())
		} else if len(raw) < 32 {
			add("encryption.master_key", fmt.Sprintf("must decode to at least 32 bytes, got %d", len(raw)))
		}
	}
	if !oneOf(cfg.Encryption.KeySource, "derived", "redis") {
		add("encryption.key_source", "unknown key source", "supported: derived, redis")
	}

	if cfg.Validation.MaxBodyBytes <= 0 {
		add("validation.max_body_bytes", "must be positive")
	}

	if cfg.Audit.BufferSize <= 0 {
		add("audit.buffer_size", "must be positive")
	}
	if cfg.Audit.TrailSize <= 0 {
		add("audit.trail_size", "must be positive")
	}

	if cfg.Compliance.PCIDSSLevel < 1 || cfg.Compliance.PCIDSSLevel > 4 {
		add("compliance.pci_dss_level", "must be between 1 and 4")
	}
	if cfg.Compliance.SOC2Type < 1 || cfg.Compliance.SOC2Type > 2 {
		add("compliance.soc2_type", "must be 1 or 2")
	}

	switch cfg.Server.Proxy.Mode {
	case "decision_only":
	case "reverse_proxy":
		if u, err := url.Parse(cfg.Server.Proxy.Upstream); err != nil || u.Scheme == "" || u.Host == "" {
			add("server.proxy.upstream", "reverse_proxy mode requires an absolute upstream URL")
		}
	default:
		add("server.proxy.mode", "unknown mode", "supported: decision_only, reverse_proxy")
	}

	if !oneOf(cfg.Server.ErrorResponse.Format, ErrorFormatJSON, ErrorFormatText, ErrorFormatRFC7807) {
		add("server.error_response.format", "unknown format", "supported: json, text, rfc7807")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
