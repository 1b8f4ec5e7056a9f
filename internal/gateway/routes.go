// Package gateway implements the edge process: the only externally
// reachable surface. It authenticates, throttles and forwards requests
// to the internal services; backends trust its x-user-id header and
// never see the original credential.
package gateway

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/avelis/socialmesh/internal/config"
)

// Route is one typed dispatch descriptor, resolved from configuration
// at boot. Routes are immutable after construction.
type Route struct {
	// Name identifies the route in logs and metrics.
	Name string

	// Prefix is the inbound path prefix, e.g. /v1/post.
	Prefix string

	// RewritePrefix replaces Prefix before forwarding, e.g. /api/posts.
	RewritePrefix string

	// Backend is the parsed base URL of the target service.
	Backend *url.URL

	// RequiresAuth enables the bearer-token guard.
	RequiresAuth bool

	proxy *proxyHandler
}

// RewritePath maps an inbound path to the backend path.
func (r *Route) RewritePath(path string) string {
	rest := strings.TrimPrefix(path, r.Prefix)
	if rest != "" && !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return r.RewritePrefix + rest
}

// Table resolves inbound paths to routes by longest matching prefix.
type Table struct {
	routes []*Route
}

// NewTable builds the dispatch table from route configuration.
func NewTable(cfgs []config.RouteConfig) (*Table, error) {
	routes := make([]*Route, 0, len(cfgs))
	for _, cfg := range cfgs {
		backend, err := url.Parse(cfg.Backend)
		if err != nil {
			return nil, fmt.Errorf("route %q: invalid backend URL: %w", cfg.Name, err)
		}
		if backend.Scheme == "" || backend.Host == "" {
			return nil, fmt.Errorf("route %q: backend URL must be absolute", cfg.Name)
		}

		name := cfg.Name
		if name == "" {
			name = strings.Trim(cfg.Prefix, "/")
		}

		routes = append(routes, &Route{
			Name:          name,
			Prefix:        strings.TrimRight(cfg.Prefix, "/"),
			RewritePrefix: strings.TrimRight(cfg.RewritePrefix, "/"),
			Backend:       backend,
			RequiresAuth:  cfg.RequiresAuth,
		})
	}

	// Longest prefix first, so /v1/post/media beats /v1/post.
	sort.Slice(routes, func(i, j int) bool {
		return len(routes[i].Prefix) > len(routes[j].Prefix)
	})
	return &Table{routes: routes}, nil
}

// Match returns the route for the path, or nil. A match is either the
// prefix itself or the prefix followed by a path separator; /v1/posts
// must not match the /v1/post route.
func (t *Table) Match(path string) *Route {
	for _, route := range t.routes {
		if path == route.Prefix || strings.HasPrefix(path, route.Prefix+"/") {
			return route
		}
	}
	return nil
}

// Routes returns the table contents in match order.
func (t *Table) Routes() []*Route {
	return t.routes
}
