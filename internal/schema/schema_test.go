package schema

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
)

func generate(t *testing.T, st SchemaType) map[string]any {
	t.Helper()
	data, err := NewGenerator().Generate(st)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	return schema
}

func TestGenerator_Generate_ConfigSchema(t *testing.T) {
	schema := generate(t, SchemaTypeConfig)

	assert.Contains(t, schema, "$schema")
	assert.Equal(t, "Secgate Configuration", schema["title"])

	desc, ok := schema["description"].(string)
	require.True(t, ok)
	assert.Contains(t, desc, "SECGATE_")
}

func TestGenerator_Generate_RoutesSchema(t *testing.T) {
	schema := generate(t, SchemaTypeRoutes)

	assert.Equal(t, "Secgate Route Permissions", schema["title"])
	assert.Equal(t, true, schema["x-runtime-updatable"])
	assert.Contains(t, schema, "examples")
}

func TestGenerator_Generate_DefaultType(t *testing.T) {
	gen := NewGenerator()

	unknown, err := gen.Generate("unknown")
	require.NoError(t, err)
	cfg, err := gen.Generate(SchemaTypeConfig)
	require.NoError(t, err)

	assert.JSONEq(t, string(cfg), string(unknown))
}

// ===== Property naming =====

func TestGenerator_ConfigSchema_UsesConfigKeys(t *testing.T) {
	data, err := NewGenerator().Generate(SchemaTypeConfig)
	require.NoError(t, err)
	out := string(data)

	for _, key := range []string{
		`"rate_limit"`, `"management_rate_limit"`, `"session_timeout"`,
		`"master_key"`, `"max_body_bytes"`, `"scanner_agents"`, `"trail_retention"`,
	} {
		assert.Contains(t, out, key)
	}
	assert.NotContains(t, out, `"RateLimit"`)
	assert.NotContains(t, out, `"ManagementRate"`)
}

func TestGenerator_RoutesSchema_RequiredFields(t *testing.T) {
	data, err := NewGenerator().Generate(SchemaTypeRoutes)
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, `"route_entry"`)
	assert.Contains(t, out, `"permissions"`)
	assert.Contains(t, out, `"minItems": 1`)
}

func TestGenerator_DurationPattern(t *testing.T) {
	data, err := NewGenerator().Generate(SchemaTypeConfig)
	require.NoError(t, err)

	assert.Contains(t, string(data), "Duration string")
}

func TestGenerator_HasValidReferences(t *testing.T) {
	for _, st := range GetAvailableSchemas() {
		t.Run(string(st), func(t *testing.T) {
			schema := generate(t, st)
			data, err := NewGenerator().Generate(st)
			require.NoError(t, err)

			defs, _ := schema["$defs"].(map[string]any)
			refs := regexp.MustCompile(`"\$ref": "#/\$defs/([^"]+)"`).FindAllStringSubmatch(string(data), -1)
			for _, ref := range refs {
				assert.Contains(t, defs, ref[1], "dangling reference %s", ref[1])
			}
		})
	}
}

// ===== Helpers =====

func TestDefinitionName(t *testing.T) {
	tests := []struct {
		typ  reflect.Type
		want string
	}{
		{reflect.TypeOf(config.Config{}), "config_config"},
		{reflect.TypeOf(logger.Config{}), "logger_config"},
		{reflect.TypeOf(config.RateLimitConfig{}), "rate_limit_config"},
		{reflect.TypeOf(config.HTTPServerConfig{}), "http_server_config"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, definitionName(tt.typ))
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"RateLimit", "rate_limit"},
		{"ServerConfig", "server_config"},
		{"TrailSize", "trail_size"},
		{"MFARequired", "mfa_required"},
		{"PCIDSSLevel", "pci_dss_level"},
		{"IPAddress", "ip_address"},
		{"URL", "url"},
		{"simple", "simple"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, toSnakeCase(tt.input))
		})
	}
}

func TestParseSchemaType(t *testing.T) {
	tests := []struct {
		input string
		want  SchemaType
		ok    bool
	}{
		{"config", SchemaTypeConfig, true},
		{"CONFIG", SchemaTypeConfig, true},
		{"routes", SchemaTypeRoutes, true},
		{"rules", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseSchemaType(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetAvailableSchemas(t *testing.T) {
	schemas := GetAvailableSchemas()
	assert.Len(t, schemas, 2)
	for _, st := range schemas {
		_, ok := ParseSchemaType(strings.ToUpper(string(st)))
		assert.True(t, ok)
	}
}
