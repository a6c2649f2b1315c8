package help

import (
	"fmt"
	"strings"
)

// AppInfo contains application metadata.
type AppInfo struct {
	Name        string
	Description string
	Version     string
	BuildTime   string
	GitCommit   string
}

// Generator renders help text.
type Generator struct {
	app     AppInfo
	prefix  string
	envVars []EnvVar
}

// NewGenerator creates a generator documenting cfg's environment overrides.
func NewGenerator(app AppInfo, envPrefix string, cfg any) *Generator {
	g := &Generator{app: app, prefix: envPrefix}
	if cfg != nil {
		g.envVars = ExtractEnvVars(envPrefix, cfg)
	}
	return g
}

// EnvVars returns the documented environment variables.
func (g *Generator) EnvVars() []EnvVar { return g.envVars }

// Version returns the version banner.
func (g *Generator) Version() string {
	return fmt.Sprintf("%s %s\n  Build time: %s\n  Git commit: %s\n",
		g.app.Name, g.app.Version, g.app.BuildTime, g.app.GitCommit)
}

// EnvHelp lists every environment override.
func (g *Generator) EnvHelp() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s - Environment Variables\n", strings.ToUpper(g.app.Name))
	sb.WriteString(strings.Repeat("=", 80) + "\n\n")
	fmt.Fprintf(&sb, "Pattern: %s_<SECTION>_<KEY>\n", g.prefix)
	fmt.Fprintf(&sb, "Total variables: %d\n", len(g.envVars))
	sb.WriteString(FormatEnvVars(g.envVars))
	return sb.String()
}

// Help returns the full help page.
func (g *Generator) Help() string {
	var sb strings.Builder

	sb.WriteString(g.header())
	section(&sb, "DESCRIPTION", "    "+g.app.Description+"\n")
	section(&sb, "USAGE", fmt.Sprintf("    %s [OPTIONS]\n", g.app.Name))
	section(&sb, "OPTIONS", optionsSection)
	section(&sb, "PIPELINE", pipelineSection)
	section(&sb, "OPERATION MODES", modesSection)
	section(&sb, "CONFIGURATION", g.configSection())
	section(&sb, "SECRETS", g.secretsSection())
	section(&sb, "ENDPOINTS", endpointsSection)
	section(&sb, "EXAMPLES", g.examplesSection())
	section(&sb, "SIGNALS", "    SIGTERM, SIGINT    Drain, flush the audit trail and exit\n")
	section(&sb, "VERSION", fmt.Sprintf("    %s (%s), built %s\n", g.app.Version, g.app.GitCommit, g.app.BuildTime))

	return sb.String()
}

func section(sb *strings.Builder, title, body string) {
	sb.WriteString(title + "\n")
	sb.WriteString(body)
	sb.WriteString("\n")
}

func (g *Generator) header() string {
	const width = 80
	line := "+" + strings.Repeat("-", width-2) + "+\n"
	center := func(s string) string {
		if len(s) > width-4 {
			s = s[:width-7] + "..."
		}
		pad := (width - 2 - len(s)) / 2
		return "|" + strings.Repeat(" ", pad) + s + strings.Repeat(" ", width-2-pad-len(s)) + "|\n"
	}
	return "\n" + line + center(strings.ToUpper(g.app.Name)) + center(g.app.Description) + line + "\n"
}

const optionsSection = `    -config <path>          Path to YAML configuration file
    -version                Show version information
    -help                   Show this help message
    -help-env               Show all environment variables
    -schema <config|routes> Print a JSON Schema and exit
    -audit                  Run one security audit, print the report and exit
    -issue-user <id>        Issue a session token and exit
    -issue-perms <list>     Comma separated permissions for -issue-user
`

const pipelineSection = `    Every request under the protected prefix runs these stages in order.
    The first failing stage rejects the request and one audit record is written.

      RATE_LIMIT         429  sliding window per user and IP (fails open)
      THREAT_SCAN        403  injection patterns and scanner user agents
      SESSION_CHECK      401  encrypted session token, integrity, expiry, anomaly score
      PERMISSION_CHECK   403  route permission map
      INPUT_VALIDATION   400  method, content type and body size
`

const modesSection = `    decision_only (default)
        Allowed requests get a JSON decision with the sanitized request.

    reverse_proxy
        Allowed requests are forwarded upstream with sanitized headers and body
        plus X-Secgate-User-ID, X-Secgate-Session-ID, X-Secgate-Permissions
        and X-Audit-ID.
`

const endpointsSection = `    GET /health              Component health
    GET /ready               Readiness probe (503 while draining)
    GET /metrics             Prometheus metrics
    GET /v1/security/audit   Run the security posture audit
    GET /v1/security/trail   Recent audit records (?limit=, ?user_id=)
`

func (g *Generator) configSection() string {
	return fmt.Sprintf(`    Sources, highest priority first:

      1. Environment variables  %[1]s_<SECTION>_<KEY>, e.g. %[1]s_RATE_LIMIT_MAX_REQUESTS=200
      2. YAML file              -config, or ./config.yaml, ./configs/config.yaml, /etc/secgate/config.yaml
      3. Built-in defaults

    Use -help-env to list all %[2]d variables.
`, g.prefix, len(g.envVars))
}

func (g *Generator) secretsSection() string {
	var sb strings.Builder
	sb.WriteString("    Never commit these to a configuration file:\n\n")
	for _, v := range g.envVars {
		if v.Sensitive {
			fmt.Fprintf(&sb, "      %s\n", v.Name)
		}
	}
	sb.WriteString("\n    Without an encryption master key an ephemeral key is generated and\n")
	sb.WriteString("    sessions do not survive a restart.\n")
	return sb.String()
}

func (g *Generator) examplesSection() string {
	return fmt.Sprintf(`    %[2]s -config /etc/secgate/config.yaml

    %[1]s_ENCRYPTION_MASTER_KEY=$(openssl rand -base64 32) \
    %[1]s_SERVER_PROXY_MODE=reverse_proxy \
    %[1]s_SERVER_PROXY_UPSTREAM=http://app:3000 %[2]s

    %[2]s -issue-user alice -issue-perms read:questoes,write:questoes
    %[2]s -audit | jq .score
    %[2]s -schema config > config.schema.json
`, g.prefix, g.app.Name)
}
