// Package threat classifies requests against a fixed set of attack patterns.
//
// Matching is heuristic. It is a defense-in-depth layer that rejects obvious
// injection and scanning traffic early; it does not replace parameterized
// queries or output encoding in the application behind the gateway.
package threat

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
)

// Category groups rules by attack class.
type Category string

const (
	CategorySQLInjection  Category = "SQL_INJECTION"
	CategoryXSS           Category = "XSS"
	CategoryScriptURL     Category = "SCRIPT_URL"
	CategoryPathTraversal Category = "PATH_TRAVERSAL"
	CategoryDangerousHTML Category = "DANGEROUS_HTML"
	CategoryScanner       Category = "SCANNER"
)

// Threat types reported to callers.
const (
	TypeMaliciousURL        = "MALICIOUS_URL"
	TypeMaliciousPayload    = "MALICIOUS_PAYLOAD"
	TypeSuspiciousUserAgent = "SUSPICIOUS_USER_AGENT"
	typeHeaderPrefix        = "MALICIOUS_HEADER_"
)

// Rule is a compiled pattern tagged with its category.
type Rule struct {
	Category Category
	Pattern  *regexp.Regexp
}

// Result is the outcome of Analyze.
type Result struct {
	ThreatDetected bool
	ThreatType     string
	Category       Category
}

var defaultRules = []Rule{
	// Quote breakouts into boolean tautologies: ' OR 1=1, ' or 'a'='a
	{CategorySQLInjection, regexp.MustCompile(`(?i)'\s*\)?\s*\b(or|and)\b\s*\(?\s*['"]?\w+['"]?\s*(=|<>|!=|\blike\b)\s*['"]?\w+`)},
	// Bare numeric tautologies: OR 1=1
	{CategorySQLInjection, regexp.MustCompile(`(?i)\b(or|and)\b\s+(\d+)\s*=\s*(\d+)\b`)},
	// Quote followed directly by a comment marker.
	{CategorySQLInjection, regexp.MustCompile(`'\s*(--|#|/\*)`)},
	{CategorySQLInjection, regexp.MustCompile(`(?i)\bunion\b(\s+all)?\s+select\b`)},
	{CategorySQLInjection, regexp.MustCompile(`(?i);\s*(drop|truncate|alter)\s+(table|database|schema)\b`)},
	{CategorySQLInjection, regexp.MustCompile(`(?i);\s*(delete\s+from|insert\s+into|update\s+\w+\s+set|exec(ute)?\s+\w)`)},
	{CategorySQLInjection, regexp.MustCompile(`(?i)\b(sleep|benchmark|pg_sleep)\s*\(\s*\d|\bwaitfor\s+delay\s+'`)},

	{CategoryXSS, regexp.MustCompile(`(?i)<\s*/?\s*script\b`)},
	{CategoryXSS, regexp.MustCompile(`(?i)\bon(load|error|click|dblclick|mouseover|mouseout|mouseenter|focus|blur|submit|change|input|keydown|keyup|keypress|toggle|animationstart|pointerdown)\s*=`)},

	{CategoryScriptURL, regexp.MustCompile(`(?i)\b(javascript|vbscript)\s*:`)},
	{CategoryScriptURL, regexp.MustCompile(`(?i)\bdata\s*:\s*text/html`)},

	{CategoryPathTraversal, regexp.MustCompile(`\.\.[/\\]`)},
	{CategoryPathTraversal, regexp.MustCompile(`(?i)\.\.%(2f|5c)|%2e%2e(%2f|%5c|[/\\])`)},

	{CategoryDangerousHTML, regexp.MustCompile(`(?i)<\s*(iframe|object|embed|applet|frameset|frame|base|meta)\b`)},
}

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	out := make([]Rule, len(defaultRules))
	copy(out, defaultRules)
	return out
}

// Detector scans requests. It holds no mutable state and is safe for
// concurrent use.
type Detector struct {
	rules  []Rule
	agents []string
}

// NewDetector creates a detector using the built-in rules and the given
// scanner user-agent denylist.
func NewDetector(agents []string) *Detector {
	return NewDetectorWithRules(DefaultRules(), agents)
}

// NewDetectorWithRules creates a detector with a custom rule set.
func NewDetectorWithRules(rules []Rule, agents []string) *Detector {
	lowered := make([]string, 0, len(agents))
	for _, a := range agents {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			lowered = append(lowered, a)
		}
	}
	return &Detector{rules: rules, agents: lowered}
}

// Analyze scans the URL, then header values in name order, then every string
// in the body, then the user agent. The first match wins.
func (d *Detector) Analyze(req *domain.SecurityRequest) Result {
	if req == nil {
		return Result{}
	}

	for _, u := range urlForms(req.URL) {
		if cat, ok := d.match(u); ok {
			return Result{ThreatDetected: true, ThreatType: TypeMaliciousURL, Category: cat}
		}
	}

	for _, name := range req.Headers.Names() {
		if cat, ok := d.match(req.Headers[name]); ok {
			return Result{
				ThreatDetected: true,
				ThreatType:     typeHeaderPrefix + strings.ToUpper(name),
				Category:       cat,
			}
		}
	}

	if cat, ok := d.matchBody(req.Body); ok {
		return Result{ThreatDetected: true, ThreatType: TypeMaliciousPayload, Category: cat}
	}

	if d.suspiciousAgent(req.UserAgent()) {
		return Result{ThreatDetected: true, ThreatType: TypeSuspiciousUserAgent, Category: CategoryScanner}
	}

	return Result{}
}

func (d *Detector) match(s string) (Category, bool) {
	if s == "" {
		return "", false
	}
	for _, r := range d.rules {
		if r.Pattern.MatchString(s) {
			return r.Category, true
		}
	}
	return "", false
}

// matchBody walks decoded JSON and checks keys and string values.
func (d *Detector) matchBody(v any) (Category, bool) {
	switch t := v.(type) {
	case string:
		return d.match(t)
	case []any:
		for _, item := range t {
			if cat, ok := d.matchBody(item); ok {
				return cat, true
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if cat, ok := d.match(k); ok {
				return cat, true
			}
			if cat, ok := d.matchBody(t[k]); ok {
				return cat, true
			}
		}
	}
	return "", false
}

func (d *Detector) suspiciousAgent(ua string) bool {
	if ua == "" {
		return false
	}
	ua = strings.ToLower(ua)
	for _, a := range d.agents {
		if strings.Contains(ua, a) {
			return true
		}
	}
	return false
}

// urlForms returns the raw URL plus up to two rounds of percent-decoding.
func urlForms(raw string) []string {
	forms := []string{raw}
	cur := raw
	for i := 0; i < 2; i++ {
		dec, err := url.QueryUnescape(cur)
		if err != nil {
			dec, err = url.PathUnescape(cur)
			if err != nil {
				break
			}
		}
		if dec == cur {
			break
		}
		forms = append(forms, dec)
		cur = dec
	}
	return forms
}
