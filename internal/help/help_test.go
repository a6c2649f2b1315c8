package help

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
)

func newGenerator() *Generator {
	return NewGenerator(AppInfo{
		Name:        "secgate",
		Description: "Request security gateway",
		Version:     "1.2.3",
		BuildTime:   "2026-01-01",
		GitCommit:   "abc123",
	}, config.EnvPrefix, &config.Config{})
}

func TestGenerator_Version(t *testing.T) {
	out := newGenerator().Version()
	assert.Contains(t, out, "secgate 1.2.3")
	assert.Contains(t, out, "abc123")
}

func TestGenerator_Help(t *testing.T) {
	out := newGenerator().Help()

	for _, s := range []string{
		"SECGATE", "secgate [OPTIONS]", "-help-env", "PERMISSION_CHECK", "reverse_proxy",
		"SECGATE_ENCRYPTION_MASTER_KEY", "/v1/security/trail", "1.2.3 (abc123)",
	} {
		assert.Contains(t, out, s)
	}
}

func TestGenerator_EnvHelp(t *testing.T) {
	g := newGenerator()
	out := g.EnvHelp()

	assert.Contains(t, out, "SECGATE - Environment Variables")
	assert.Contains(t, out, "Pattern: SECGATE_<SECTION>_<KEY>")
	assert.Contains(t, out, "[rate_limit]")
	assert.Equal(t, len(g.EnvVars()), strings.Count(out, "      SECGATE_"))
}

func TestGenerator_NoConfig(t *testing.T) {
	g := NewGenerator(AppInfo{Name: "x"}, "X", nil)
	assert.Empty(t, g.EnvVars())
	assert.Contains(t, g.EnvHelp(), "Total variables: 0")
}

func TestGenerator_Header(t *testing.T) {
	g := NewGenerator(AppInfo{Name: "x", Description: strings.Repeat("d", 100)}, "X", nil)
	for _, line := range strings.Split(strings.TrimSpace(g.header()), "\n") {
		assert.Len(t, line, 80)
	}
}
