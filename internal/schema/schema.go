// Package schema provides JSON Schema generation for the configuration and
// the route permission map.
package schema

import (
	"encoding/json"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/authz"
)

// SchemaType represents the type of schema to generate.
type SchemaType string

const (
	SchemaTypeConfig SchemaType = "config"
	SchemaTypeRoutes SchemaType = "routes"
)

const schemaBaseURL = "https://github.com/fartech2025/SDR-Juridico-sub003/schemas/"

// Generator generates JSON schemas for secgate configuration files.
type Generator struct {
	config *jsonschema.Reflector
	routes *jsonschema.Reflector
}

// NewGenerator creates a new schema generator.
func NewGenerator() *Generator {
	return &Generator{
		config: newReflector("mapstructure"),
		routes: newReflector("yaml"),
	}
}

func newReflector(tag string) *jsonschema.Reflector {
	return &jsonschema.Reflector{
		// Only fields tagged jsonschema:"required" are required; the rest
		// have defaults.
		RequiredFromJSONSchemaTags: true,
		FieldNameTag:               tag,
		Namer:                      definitionName,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(time.Duration(0)) {
				return &jsonschema.Schema{
					Type:        "string",
					Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
					Description: "Duration string (e.g., '30s', '5m', '1h')",
					Examples:    []any{"10s", "5m", "1h", "30s"},
				}
			}
			return nil
		},
	}
}

// definitionName names $defs entries in snake_case. Several packages export
// a type named Config, so those are qualified by package.
func definitionName(t reflect.Type) string {
	name := t.Name()
	if name == "Config" {
		name = path.Base(t.PkgPath()) + name
	}
	return toSnakeCase(name)
}

// Generate generates a JSON schema for the specified type.
func (g *Generator) Generate(schemaType SchemaType) ([]byte, error) {
	var schema *jsonschema.Schema

	switch schemaType {
	case SchemaTypeRoutes:
		schema = g.generateRoutesSchema()
	default:
		schema = g.generateConfigSchema()
	}

	return json.MarshalIndent(schema, "", "  ")
}

// generateConfigSchema generates schema for config.yaml.
func (g *Generator) generateConfigSchema() *jsonschema.Schema {
	schema := g.config.Reflect(&config.Config{})

	schema.Title = "Secgate Configuration"
	schema.Description = "Security gateway configuration.\n\n" +
		"Every key can be overridden with an environment variable: prefix " + config.EnvPrefix + "_, " +
		"upper case, dots replaced by underscores (e.g. " + config.EnvPrefix + "_RATE_LIMIT_MAX_REQUESTS)."
	schema.ID = schemaBaseURL + "config.schema.json"

	return schema
}

// generateRoutesSchema generates schema for the permission map file.
func (g *Generator) generateRoutesSchema() *jsonschema.Schema {
	schema := g.routes.Reflect(&authz.RouteFile{})

	schema.Title = "Secgate Route Permissions"
	schema.Description = "Route permission map.\n\n" +
		"A request is allowed when the session holds every permission of its route.\n" +
		"Routes not listed here are denied. The file is reloaded on change when permissions.watch is set."
	schema.ID = schemaBaseURL + "routes.schema.json"

	if schema.Extras == nil {
		schema.Extras = make(map[string]any)
	}
	schema.Extras["x-runtime-updatable"] = true

	schema.Examples = []any{
		map[string]any{
			"routes": []any{
				map[string]any{
					"method":      "GET",
					"path":        "/api/questoes",
					"permissions": []string{"read:questoes"},
				},
				map[string]any{
					"method":      "POST",
					"path":        "/api/questoes",
					"permissions": []string{"write:questoes", "admin"},
				},
			},
		},
	}

	return schema
}

// toSnakeCase converts PascalCase/camelCase to snake_case.
// Handles special cases like IPs, IDs, URLs correctly.
func toSnakeCase(s string) string {
	special := map[string]string{
		"HTTPServerConfig": "http_server_config",
		"PCIDSSLevel":      "pci_dss_level",
		"LGPDCompliant":    "lgpd_compliant",
		"MFARequired":      "mfa_required",
		"HSMEnabled":       "hsm_enabled",
		"TTL":              "ttl",
		"URL":              "url",
		"ID":               "id",
	}

	if val, ok := special[s]; ok {
		return val
	}

	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := rune(s[i-1])
			// Underscore before an uppercase letter that follows a lowercase
			// one, or that starts a new word after an acronym.
			if prev >= 'a' && prev <= 'z' {
				result.WriteByte('_')
			} else if i+1 < len(s) {
				next := rune(s[i+1])
				if next >= 'a' && next <= 'z' && prev >= 'A' && prev <= 'Z' {
					result.WriteByte('_')
				}
			}
		}
		if r >= 'A' && r <= 'Z' {
			result.WriteRune(r + 32)
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}

// GetAvailableSchemas returns list of available schema types.
func GetAvailableSchemas() []SchemaType {
	return []SchemaType{
		SchemaTypeConfig,
		SchemaTypeRoutes,
	}
}

// ParseSchemaType parses a string to SchemaType.
func ParseSchemaType(s string) (SchemaType, bool) {
	switch strings.ToLower(s) {
	case "config":
		return SchemaTypeConfig, true
	case "routes":
		return SchemaTypeRoutes, true
	default:
		return "", false
	}
}
