package help

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
)

type testConfig struct {
	Server struct {
		Addr    string        `mapstructure:"addr" jsonschema:"description=Listen address.,default=:8080"`
		Timeout time.Duration `mapstructure:"timeout" jsonschema:"default=30s"`
	} `mapstructure:"server"`
	Mode     string `mapstructure:"mode" jsonschema:"enum=a,enum=b,default=a"`
	Password string `mapstructure:"password"`
	Services map[string]struct {
		Limit uint32 `mapstructure:"limit"`
	} `mapstructure:"services"`
	Tags     []string `mapstructure:"tags" jsonschema:"description=Free tags\\, comma separated."`
	Skipped  string   `mapstructure:"-"`
	Untagged string
}

func byName(vars []EnvVar) map[string]EnvVar {
	out := make(map[string]EnvVar, len(vars))
	for _, v := range vars {
		out[v.Name] = v
	}
	return out
}

// ===== ExtractEnvVars Tests =====

func TestExtractEnvVars(t *testing.T) {
	vars := byName(ExtractEnvVars("APP", &testConfig{}))

	require.Len(t, vars, 6)

	addr := vars["APP_SERVER_ADDR"]
	assert.Equal(t, "server.addr", addr.ConfigPath)
	assert.Equal(t, "string", addr.Type)
	assert.Equal(t, "Listen address.", addr.Description)
	assert.Equal(t, ":8080", addr.Default)

	assert.Equal(t, "duration", vars["APP_SERVER_TIMEOUT"].Type)
	assert.Equal(t, []string{"a", "b"}, vars["APP_MODE"].Enum)
	assert.True(t, vars["APP_PASSWORD"].Sensitive)
	assert.Equal(t, "uint", vars["APP_SERVICES_NAME_LIMIT"].Type)
	assert.Equal(t, "[]string", vars["APP_TAGS"].Type)
	assert.Equal(t, "Free tags, comma separated.", vars["APP_TAGS"].Description)

	assert.NotContains(t, vars, "APP_SKIPPED")
	assert.NotContains(t, vars, "APP_UNTAGGED")
}

func TestExtractEnvVars_Sorted(t *testing.T) {
	vars := ExtractEnvVars("APP", testConfig{})
	for i := 1; i < len(vars); i++ {
		assert.Less(t, vars[i-1].Name, vars[i].Name)
	}
}

func TestExtractEnvVars_Config(t *testing.T) {
	vars := byName(ExtractEnvVars(config.EnvPrefix, &config.Config{}))

	for _, name := range []string{
		"SECGATE_RATE_LIMIT_MAX_REQUESTS",
		"SECGATE_AUTH_SESSION_TIMEOUT",
		"SECGATE_SERVER_PROXY_UPSTREAM",
		"SECGATE_CIRCUIT_BREAKER_SERVICES_NAME_TIMEOUT",
		"SECGATE_LOGGING_LEVEL",
	} {
		assert.Contains(t, vars, name)
	}
	assert.True(t, vars["SECGATE_ENCRYPTION_MASTER_KEY"].Sensitive)
	assert.True(t, vars["SECGATE_REDIS_PASSWORD"].Sensitive)
}

func TestExtractEnvVars_Nil(t *testing.T) {
	assert.Empty(t, ExtractEnvVars("APP", nil))
}

// ===== Helper Tests =====

func TestEnvName(t *testing.T) {
	assert.Equal(t, "APP_SERVER_HTTP_ADDR", envName("APP", "server.http.addr"))
	assert.Equal(t, "X_NAME_LIMIT", envName("", "x.<name>.limit"))
}

func TestTagValues(t *testing.T) {
	tag := `description=A\, B,enum=x,enum=y,default=x`
	assert.Equal(t, "A, B", tagValue(tag, "description"))
	assert.Equal(t, []string{"x", "y"}, tagValues(tag, "enum"))
	assert.Empty(t, tagValue(tag, "example"))
}

func TestFormatEnvVars(t *testing.T) {
	out := FormatEnvVars([]EnvVar{
		{Name: "APP_A_X", ConfigPath: "a.x", Type: "int", Default: "1"},
		{Name: "APP_B_PASSWORD", ConfigPath: "b.password", Type: "string", Sensitive: true, Enum: []string{"p", "q"}},
	})

	assert.Contains(t, out, "[a]")
	assert.Contains(t, out, "[b]")
	assert.Contains(t, out, "APP_A_X (int)")
	assert.Contains(t, out, "Default: 1")
	assert.Contains(t, out, "APP_B_PASSWORD (string)  SECRET")
	assert.Contains(t, out, "One of: p, q")
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, "short", wrapText("short", 10))
	assert.Equal(t, "one two\nthree", wrapText("one two three", 8))
}
