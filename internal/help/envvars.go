// Package help renders the command line help, including the environment
// variables that override configuration keys.
package help

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// EnvVar documents one environment override.
type EnvVar struct {
	Name        string // SECGATE_RATE_LIMIT_MAX_REQUESTS
	ConfigPath  string // rate_limit.max_requests
	Type        string
	Description string
	Default     string
	Enum        []string
	Sensitive   bool
}

// sensitiveKeys are config keys whose values must come from the environment
// or a secret store, never from a committed file.
var sensitiveKeys = map[string]bool{
	"master_key": true,
	"password":   true,
}

// ExtractEnvVars walks cfg's mapstructure tags and returns one EnvVar per
// leaf key, sorted by name. Maps of structs use a NAME placeholder.
func ExtractEnvVars(prefix string, cfg any) []EnvVar {
	var vars []EnvVar
	walk(reflect.TypeOf(cfg), "", func(path string, t reflect.Type, tag string) {
		key := path[strings.LastIndex(path, ".")+1:]
		vars = append(vars, EnvVar{
			Name:        envName(prefix, path),
			ConfigPath:  path,
			Type:        typeName(t),
			Description: tagValue(tag, "description"),
			Default:     tagValue(tag, "default"),
			Enum:        tagValues(tag, "enum"),
			Sensitive:   sensitiveKeys[key],
		})
	})
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	return vars
}

func walk(t reflect.Type, prefix string, leaf func(path string, t reflect.Type, tag string)) {
	if t == nil {
		return
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}

		ft := field.Type
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		switch {
		case ft.Kind() == reflect.Struct && !isScalar(ft):
			walk(ft, path, leaf)
		case ft.Kind() == reflect.Map && ft.Elem().Kind() == reflect.Struct:
			walk(ft.Elem(), path+".<name>", leaf)
		default:
			leaf(path, ft, field.Tag.Get("jsonschema"))
		}
	}
}

func envName(prefix, path string) string {
	name := strings.NewReplacer(".", "_", "<name>", "NAME").Replace(path)
	name = strings.ToUpper(name)
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}

// tagValue returns the first key=value entry of a jsonschema tag. Escaped
// commas (\,) belong to the value.
func tagValue(tag, key string) string {
	if v := tagValues(tag, key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func tagValues(tag, key string) []string {
	var out []string
	for _, part := range splitTag(tag) {
		k, v, ok := strings.Cut(part, "=")
		if ok && k == key {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}

func splitTag(tag string) []string {
	var parts []string
	var cur strings.Builder
	for i := 0; i < len(tag); i++ {
		switch {
		case tag[i] == '\\' && i+1 < len(tag) && tag[i+1] == ',':
			cur.WriteByte(',')
			i++
		case tag[i] == ',':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(tag[i])
		}
	}
	return append(parts, cur.String())
}

func isScalar(t reflect.Type) bool {
	if t.PkgPath() == "time" {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func typeName(t reflect.Type) string {
	if t.String() == "time.Duration" {
		return "duration"
	}
	switch t.Kind() {
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "int"
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "uint"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.String:
		return "string"
	case reflect.Slice:
		return "[]" + typeName(t.Elem())
	case reflect.Map:
		return "map"
	}
	return t.String()
}

// FormatEnvVars renders vars grouped by their top-level config section.
func FormatEnvVars(vars []EnvVar) string {
	var sb strings.Builder
	section := ""
	for _, v := range vars {
		top, _, _ := strings.Cut(v.ConfigPath, ".")
		if top != section {
			section = top
			fmt.Fprintf(&sb, "\n    [%s]\n", section)
		}

		fmt.Fprintf(&sb, "      %s (%s)", v.Name, v.Type)
		if v.Sensitive {
			sb.WriteString("  SECRET")
		}
		sb.WriteString("\n")
		if v.Description != "" {
			for _, line := range strings.Split(wrapText(v.Description, 70), "\n") {
				fmt.Fprintf(&sb, "        %s\n", line)
			}
		}
		if len(v.Enum) > 0 {
			fmt.Fprintf(&sb, "        One of: %s\n", strings.Join(v.Enum, ", "))
		}
		if v.Default != "" {
			fmt.Fprintf(&sb, "        Default: %s\n", v.Default)
		}
	}
	return sb.String()
}

func wrapText(text string, width int) string {
	if width <= 0 || len(text) <= width {
		return text
	}

	var sb strings.Builder
	lineLen := 0
	for i, word := range strings.Fields(text) {
		if i > 0 {
			if lineLen+1+len(word) > width {
				sb.WriteByte('\n')
				lineLen = 0
			} else {
				sb.WriteByte(' ')
				lineLen++
			}
		}
		sb.WriteString(word)
		lineLen += len(word)
	}
	return sb.String()
}
