// Package authz maps routes to required permissions and checks callers
// against them.
package authz

import (
	"net/url"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/metrics"
)

// RouteMap maps "METHOD /path" to the permissions a caller must hold.
type RouteMap map[string]domain.PermissionSet

// RouteKey builds the map key for a request. The query string and a
// trailing slash are ignored.
func RouteKey(method, rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	} else if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return strings.ToUpper(method) + " " + path
}

// DefaultRoutes returns the built-in route map.
func DefaultRoutes() RouteMap {
	return RouteMap{
		"GET /api/questoes":          domain.NewPermissionSet("read:questoes"),
		"POST /api/questoes":         domain.NewPermissionSet("write:questoes", "admin"),
		"PUT /api/questoes":          domain.NewPermissionSet("write:questoes", "admin"),
		"DELETE /api/questoes":       domain.NewPermissionSet("delete:questoes", "admin"),
		"GET /api/usuarios":          domain.NewPermissionSet("read:usuarios", "admin"),
		"POST /api/usuarios":         domain.NewPermissionSet("write:usuarios", "admin"),
		"GET /api/database/monitor":  domain.NewPermissionSet("read:database", "admin"),
		"POST /api/database/cleanup": domain.NewPermissionSet("write:database", "admin"),
		"GET /api/security/audit":    domain.NewPermissionSet("read:security", "admin"),
		"POST /api/security/actions": domain.NewPermissionSet("write:security", "admin"),
	}
}

// Keys returns the route keys sorted.
func (m RouteMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Decision is the outcome of a permission check. Missing is for audit
// records only and never reaches the caller.
type Decision struct {
	Allowed  bool
	Required []string
	Missing  []string
}

// Authorizer checks permission sets against the current route map. The map
// is replaced atomically on reload.
type Authorizer struct {
	routes  atomic.Pointer[RouteMap]
	metrics *metrics.Metrics
}

// NewAuthorizer creates an authorizer over routes.
func NewAuthorizer(routes RouteMap, m *metrics.Metrics) *Authorizer {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	a := &Authorizer{metrics: m}
	a.Replace(routes)
	return a
}

// Replace swaps the route map.
func (a *Authorizer) Replace(routes RouteMap) {
	if routes == nil {
		routes = RouteMap{}
	}
	a.routes.Store(&routes)
}

// Routes returns the active map. Callers must not modify it.
func (a *Authorizer) Routes() RouteMap {
	return *a.routes.Load()
}

// Required returns the permissions needed for a route. Unmapped routes
// require authenticated.
func (a *Authorizer) Required(method, rawURL string) domain.PermissionSet {
	if req, ok := a.Routes()[RouteKey(method, rawURL)]; ok {
		return req
	}
	return domain.NewPermissionSet(domain.PermissionAuthenticated)
}

// Check decides whether perms satisfy the route. Holding admin satisfies
// every route.
func (a *Authorizer) Check(method, rawURL string, perms domain.PermissionSet) Decision {
	required := a.Required(method, rawURL)
	d := Decision{Required: required.Slice()}

	if perms.Has(domain.PermissionAdmin) {
		d.Allowed = true
		return d
	}
	d.Missing = perms.Missing(required)
	d.Allowed = len(d.Missing) == 0
	return d
}
