package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/tracing"
)

// EnvPrefix is the prefix for environment overrides (SECGATE_RATE_LIMIT_MAX_REQUESTS, ...).
const EnvPrefix = "SECGATE"

// Config holds all application configuration.
type Config struct {
	Server         ServerConfig         `mapstructure:"server" jsonschema:"description=HTTP listener and management endpoints."`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit" jsonschema:"description=Per user+IP sliding window limiter."`
	Threat         ThreatConfig         `mapstructure:"threat" jsonschema:"description=Request threat scanner."`
	Auth           AuthConfig           `mapstructure:"auth" jsonschema:"description=Session validation."`
	Encryption     EncryptionConfig     `mapstructure:"encryption" jsonschema:"description=Versioned session encryption."`
	Validation     ValidationConfig     `mapstructure:"validation" jsonschema:"description=Input validation limits."`
	Permissions    PermissionsConfig    `mapstructure:"permissions" jsonschema:"description=Route permission map."`
	Audit          AuditConfig          `mapstructure:"audit" jsonschema:"description=Audit trail and exporters."`
	Auditor        AuditorConfig        `mapstructure:"auditor" jsonschema:"description=Security posture auditor."`
	Monitoring     MonitoringConfig     `mapstructure:"monitoring" jsonschema:"description=Monitoring controls reported by the auditor."`
	Compliance     ComplianceConfig     `mapstructure:"compliance" jsonschema:"description=Compliance attestations reported by the auditor."`
	Redis          RedisConfig          `mapstructure:"redis" jsonschema:"description=Shared Redis connection."`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" jsonschema:"description=Circuit breakers around key source and anomaly scorer."`
	Tracing        tracing.Config       `mapstructure:"tracing"`
	Logging        logger.Config        `mapstructure:"logging"`
	Masking        logger.MaskConfig    `mapstructure:"masking"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTP           HTTPServerConfig          `mapstructure:"http"`
	Endpoints      EndpointsConfig           `mapstructure:"endpoints"`
	Proxy          ProxyConfig               `mapstructure:"proxy"`
	ManagementRate ManagementRateLimitConfig `mapstructure:"management_rate_limit"`
	ErrorResponse  ErrorResponseConfig       `mapstructure:"error_response"`
}

// Error response formats.
const (
	ErrorFormatJSON    = "json"
	ErrorFormatText    = "text"
	ErrorFormatRFC7807 = "rfc7807"
)

// ErrorResponseConfig shapes the body of denied and failed requests.
type ErrorResponseConfig struct {
	Format           string            `mapstructure:"format" jsonschema:"enum=json,enum=text,enum=rfc7807,default=json"`
	IncludeReason    bool              `mapstructure:"include_reason" jsonschema:"description=Expose the denial reason code.,default=true"`
	IncludeRequestID bool              `mapstructure:"include_request_id" jsonschema:"default=true"`
	IncludePath      bool              `mapstructure:"include_path" jsonschema:"default=false"`
	IncludeTimestamp bool              `mapstructure:"include_timestamp" jsonschema:"default=false"`
	Headers          map[string]string `mapstructure:"headers"`
}

// HTTPServerConfig holds listener settings.
type HTTPServerConfig struct {
	Enabled         bool          `mapstructure:"enabled" jsonschema:"default=true"`
	Addr            string        `mapstructure:"addr" jsonschema:"default=:8080"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" jsonschema:"default=10s"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" jsonschema:"default=30s"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" jsonschema:"default=120s"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" jsonschema:"default=30s"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes" jsonschema:"default=1048576"`
}

// EndpointsConfig holds configurable management paths. Empty disables a route.
type EndpointsConfig struct {
	Protected     string `mapstructure:"protected" jsonschema:"description=Route prefix guarded by the security pipeline.,default=/api"`
	Health        string `mapstructure:"health" jsonschema:"default=/health"`
	Ready         string `mapstructure:"ready" jsonschema:"default=/ready"`
	Metrics       string `mapstructure:"metrics" jsonschema:"default=/metrics"`
	SecurityAudit string `mapstructure:"security_audit" jsonschema:"default=/v1/security/audit"`
	AuditTrail    string `mapstructure:"audit_trail" jsonschema:"default=/v1/security/trail"`
}

// ProxyConfig controls what happens to requests the pipeline allows.
type ProxyConfig struct {
	// Mode: "decision_only" answers with the decision, "reverse_proxy" forwards upstream.
	Mode     string        `mapstructure:"mode" jsonschema:"enum=decision_only,enum=reverse_proxy,default=decision_only"`
	Upstream string        `mapstructure:"upstream" jsonschema:"description=Upstream base URL for reverse_proxy mode."`
	Timeout  time.Duration `mapstructure:"timeout" jsonschema:"default=30s"`
}

// ManagementRateLimitConfig guards the management API with ulule/limiter.
type ManagementRateLimitConfig struct {
	Enabled           bool     `mapstructure:"enabled" jsonschema:"default=true"`
	Rate              string   `mapstructure:"rate" jsonschema:"description=ulule formatted rate (e.g. 60-M).,default=60-M"`
	Store             string   `mapstructure:"store" jsonschema:"enum=memory,enum=redis,default=memory"`
	TrustForwardedFor bool     `mapstructure:"trust_forwarded_for" jsonschema:"default=false"`
	ExcludePaths      []string `mapstructure:"exclude_paths"`
	HeadersEnabled    bool     `mapstructure:"headers_enabled" jsonschema:"default=true"`
}

// RateLimitConfig configures the request pipeline limiter.
type RateLimitConfig struct {
	Window      time.Duration `mapstructure:"window" jsonschema:"description=Sliding window length.,default=60s"`
	MaxRequests int           `mapstructure:"max_requests" jsonschema:"description=Requests allowed per window per user and IP.,default=100"`
	Store       string        `mapstructure:"store" jsonschema:"enum=memory,enum=redis,default=memory"`
	IdleTTL     time.Duration `mapstructure:"idle_ttl" jsonschema:"description=Idle keys are evicted after this long.,default=10m"`
	MaxKeys     int           `mapstructure:"max_keys" jsonschema:"description=Upper bound on tracked keys.,default=100000"`
}

// ThreatConfig configures the threat scanner.
type ThreatConfig struct {
	ScannerAgents []string `mapstructure:"scanner_agents" jsonschema:"description=User-agent substrings rejected as scanners."`
}

// AuthConfig configures session validation.
type AuthConfig struct {
	SessionTimeout    time.Duration `mapstructure:"session_timeout" jsonschema:"default=15m"`
	MaxFailedAttempts int           `mapstructure:"max_failed_attempts" jsonschema:"default=3"`
	AccountLockout    time.Duration `mapstructure:"account_lockout" jsonschema:"default=30m"`
	MFARequired       bool          `mapstructure:"mfa_required" jsonschema:"default=true"`
	AnomalyThreshold  float64       `mapstructure:"anomaly_threshold" jsonschema:"minimum=0,maximum=1,default=0.8"`
	ValidationTimeout time.Duration `mapstructure:"validation_timeout" jsonschema:"description=Bound on decrypt and anomaly scoring.,default=2s"`
	ActivityStore     string        `mapstructure:"activity_store" jsonschema:"enum=memory,enum=redis,default=memory"`
}

// EncryptionConfig configures the versioned key registry.
type EncryptionConfig struct {
	Algorithm   string        `mapstructure:"algorithm" jsonschema:"enum=AES-256-GCM,enum=ChaCha20-Poly1305,default=AES-256-GCM"`
	MasterKey   string        `mapstructure:"master_key" jsonschema:"description=Base64 master secret (32 bytes or more). Keys are derived per version."`
	KeyRotation time.Duration `mapstructure:"key_rotation" jsonschema:"default=720h"`
	Epoch       string        `mapstructure:"epoch" jsonschema:"description=RFC 3339 start of key version 1.,default=2025-01-01T00:00:00Z"`
	KeySource   string        `mapstructure:"key_source" jsonschema:"enum=derived,enum=redis,default=derived"`
	HSMEnabled  bool          `mapstructure:"hsm_enabled" jsonschema:"default=false"`
}

// EpochTime parses Epoch.
func (c EncryptionConfig) EpochTime() (time.Time, error) {
	return time.Parse(time.RFC3339, c.Epoch)
}

// ValidationConfig configures request validation.
type ValidationConfig struct {
	MaxBodyBytes        int      `mapstructure:"max_body_bytes" jsonschema:"default=1048576"`
	AllowedMethods      []string `mapstructure:"allowed_methods"`
	AllowedContentTypes []string `mapstructure:"allowed_content_types"`
	AllowedHeaders      []string `mapstructure:"allowed_headers"`
}

// PermissionsConfig points at an optional YAML permission map.
type PermissionsConfig struct {
	File  string `mapstructure:"file" jsonschema:"description=YAML route permission map. Built-in map is used when empty."`
	Watch bool   `mapstructure:"watch" jsonschema:"description=Reload the map when the file changes.,default=true"`
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled        bool          `mapstructure:"enabled" jsonschema:"default=true"`
	Events         []string      `mapstructure:"events" jsonschema:"description=Exported event types. Empty exports all."`
	BufferSize     int           `mapstructure:"buffer_size" jsonschema:"description=Pending records before new ones are dropped.,default=4096"`
	TrailSize      int           `mapstructure:"trail_size" jsonschema:"default=1000"`
	TrailRetention time.Duration `mapstructure:"trail_retention" jsonschema:"default=24h"`
	Export         ExportConfig  `mapstructure:"export"`
}

// ExportConfig lists audit exporters.
type ExportConfig struct {
	Stdout StdoutExportConfig `mapstructure:"stdout"`
	File   FileExportConfig   `mapstructure:"file"`
	Redis  RedisExportConfig  `mapstructure:"redis"`
}

// StdoutExportConfig writes audit records through the application logger.
type StdoutExportConfig struct {
	Enabled bool   `mapstructure:"enabled" jsonschema:"default=true"`
	Format  string `mapstructure:"format" jsonschema:"enum=json,enum=text,default=json"`
}

// FileExportConfig writes JSON lines to a rotated file.
type FileExportConfig struct {
	Enabled  bool                  `mapstructure:"enabled"`
	Path     string                `mapstructure:"path" jsonschema:"default=/var/log/secgate/audit.log"`
	Rotation logger.RotationConfig `mapstructure:"rotation"`
}

// RedisExportConfig appends records to a Redis stream.
type RedisExportConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Stream  string `mapstructure:"stream" jsonschema:"default=secgate:audit"`
	MaxLen  int64  `mapstructure:"max_len" jsonschema:"default=100000"`
}

// AuditorConfig configures the posture auditor.
type AuditorConfig struct {
	Interval       time.Duration `mapstructure:"interval" jsonschema:"description=Periodic audit interval. Zero disables.,default=0s"`
	MaxDenialRatio float64       `mapstructure:"max_denial_ratio" jsonschema:"default=0.5"`
	MinSamples     int           `mapstructure:"min_samples" jsonschema:"default=20"`
}

// MonitoringConfig mirrors the monitoring controls of the deployment.
type MonitoringConfig struct {
	RealTimeAlerts     bool `mapstructure:"real_time_alerts" jsonschema:"default=true"`
	IntrusionDetection bool `mapstructure:"intrusion_detection" jsonschema:"default=true"`
	AnomalyDetection   bool `mapstructure:"anomaly_detection" jsonschema:"default=true"`
	AuditLogging       bool `mapstructure:"audit_logging" jsonschema:"default=true"`
}

// ComplianceConfig holds compliance attestations.
type ComplianceConfig struct {
	LGPDCompliant     bool `mapstructure:"lgpd_compliant" jsonschema:"default=true"`
	ISO27001Certified bool `mapstructure:"iso27001_certified" jsonschema:"default=true"`
	PCIDSSLevel       int  `mapstructure:"pci_dss_level" jsonschema:"minimum=1,maximum=4,default=1"`
	SOC2Type          int  `mapstructure:"soc2_type" jsonschema:"minimum=1,maximum=2,default=2"`
}

// RedisConfig holds the shared Redis connection settings.
type RedisConfig struct {
	Address   string `mapstructure:"address" jsonschema:"default=localhost:6379"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" jsonschema:"default=0"`
	KeyPrefix string `mapstructure:"key_prefix" jsonschema:"default=secgate:"`
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	Default  CircuitBreakerSettings            `mapstructure:"default"`
	Services map[string]CircuitBreakerSettings `mapstructure:"services"`
}

// CircuitBreakerSettings holds settings for a single circuit breaker.
type CircuitBreakerSettings struct {
	MaxRequests      uint32        `mapstructure:"max_requests" jsonschema:"default=1"`
	Interval         time.Duration `mapstructure:"interval" jsonschema:"default=60s"`
	Timeout          time.Duration `mapstructure:"timeout" jsonschema:"default=30s"`
	FailureThreshold uint32        `mapstructure:"failure_threshold" jsonschema:"default=5"`
	OnStateChange    bool          `mapstructure:"on_state_change" jsonschema:"default=true"`
}

// Load loads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/secgate")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// DefaultScannerAgents are user-agent substrings of common attack tooling.
var DefaultScannerAgents = []string{"sqlmap", "nikto", "nessus", "openvas", "masscan", "nmap", "curl", "wget"}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.enabled", true)
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.read_timeout", "10s")
	v.SetDefault("server.http.write_timeout", "30s")
	v.SetDefault("server.http.idle_timeout", "120s")
	v.SetDefault("server.http.shutdown_timeout", "30s")
	v.SetDefault("server.http.max_header_bytes", 1<<20)

	v.SetDefault("server.endpoints.protected", "/api")
	v.SetDefault("server.endpoints.health", "/health")
	v.SetDefault("server.endpoints.ready", "/ready")
	v.SetDefault("server.endpoints.metrics", "/metrics")
	v.SetDefault("server.endpoints.security_audit", "/v1/security/audit")
	v.SetDefault("server.endpoints.audit_trail", "/v1/security/trail")

	v.SetDefault("server.proxy.mode", "decision_only")
	v.SetDefault("server.proxy.timeout", "30s")

	v.SetDefault("server.management_rate_limit.enabled", true)
	v.SetDefault("server.management_rate_limit.rate", "60-M")
	v.SetDefault("server.management_rate_limit.store", "memory")
	v.SetDefault("server.management_rate_limit.exclude_paths", []string{"/health", "/ready"})
	v.SetDefault("server.management_rate_limit.headers_enabled", true)

	v.SetDefault("server.error_response.format", "json")
	v.SetDefault("server.error_response.include_reason", true)
	v.SetDefault("server.error_response.include_request_id", true)

	// Pipeline limiter
	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("rate_limit.max_requests", 100)
	v.SetDefault("rate_limit.store", "memory")
	v.SetDefault("rate_limit.idle_ttl", "10m")
	v.SetDefault("rate_limit.max_keys", 100000)

	v.SetDefault("threat.scanner_agents", DefaultScannerAgents)

	// Auth defaults
	v.SetDefault("auth.session_timeout", "15m")
	v.SetDefault("auth.max_failed_attempts", 3)
	v.SetDefault("auth.account_lockout", "30m")
	v.SetDefault("auth.mfa_required", true)
	v.SetDefault("auth.anomaly_threshold", 0.8)
	v.SetDefault("auth.validation_timeout", "2s")
	v.SetDefault("auth.activity_store", "memory")

	// Encryption defaults
	v.SetDefault("encryption.algorithm", "AES-256-GCM")
	v.SetDefault("encryption.key_rotation", "720h")
	v.SetDefault("encryption.epoch", "2025-01-01T00:00:00Z")
	v.SetDefault("encryption.key_source", "derived")
	v.SetDefault("encryption.hsm_enabled", false)

	// Validation defaults
	v.SetDefault("validation.max_body_bytes", 1<<20)
	v.SetDefault("validation.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"})
	v.SetDefault("validation.allowed_content_types", []string{
		"application/json",
		"application/x-www-form-urlencoded",
		"multipart/form-data",
	})
	v.SetDefault("validation.allowed_headers", []string{
		"authorization", "content-type", "accept", "user-agent", "x-forwarded-for", "x-real-ip",
	})

	v.SetDefault("permissions.watch", true)

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.buffer_size", 4096)
	v.SetDefault("audit.trail_size", 1000)
	v.SetDefault("audit.trail_retention", "24h")
	v.SetDefault("audit.export.stdout.enabled", true)
	v.SetDefault("audit.export.stdout.format", "json")
	v.SetDefault("audit.export.file.path", "/var/log/secgate/audit.log")
	v.SetDefault("audit.export.file.rotation.max_size_mb", 100)
	v.SetDefault("audit.export.file.rotation.max_backups", 10)
	v.SetDefault("audit.export.file.rotation.max_age_days", 90)
	v.SetDefault("audit.export.file.rotation.compress", true)
	v.SetDefault("audit.export.redis.stream", "secgate:audit")
	v.SetDefault("audit.export.redis.max_len", 100000)

	v.SetDefault("auditor.interval", "0s")
	v.SetDefault("auditor.max_denial_ratio", 0.5)
	v.SetDefault("auditor.min_samples", 20)

	v.SetDefault("monitoring.real_time_alerts", true)
	v.SetDefault("monitoring.intrusion_detection", true)
	v.SetDefault("monitoring.anomaly_detection", true)
	v.SetDefault("monitoring.audit_logging", true)

	v.SetDefault("compliance.lgpd_compliant", true)
	v.SetDefault("compliance.iso27001_certified", true)
	v.SetDefault("compliance.pci_dss_level", 1)
	v.SetDefault("compliance.soc2_type", 2)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "secgate:")

	v.SetDefault("circuit_breaker.default.max_requests", 1)
	v.SetDefault("circuit_breaker.default.interval", "60s")
	v.SetDefault("circuit_breaker.default.timeout", "30s")
	v.SetDefault("circuit_breaker.default.failure_threshold", 5)
	v.SetDefault("circuit_breaker.default.on_state_change", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "secgate")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_caller", true)
	v.SetDefault("logging.rotation.max_size_mb", 100)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.max_age_days", 30)
	v.SetDefault("logging.rotation.compress", true)

	v.SetDefault("masking.enabled", true)
	v.SetDefault("masking.mask_value", "***")
	v.SetDefault("masking.headers", []string{"authorization", "cookie", "x-api-key"})
	v.SetDefault("masking.show_first", 4)
}
