package gateway

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/latticehq/lattice/pkg/observability"
)

// RouteConfig is the on-disk route file format
type RouteConfig struct {
	Routes []RouteEntry `yaml:"routes"`
}

// RouteEntry maps a path prefix to an upstream
type RouteEntry struct {
	PathPrefix string `yaml:"path_prefix"`
	Upstream   string `yaml:"upstream"`
}

// RouteTable resolves request paths to upstreams. Longest prefix wins.
// The table is swapped atomically on reload, so in-flight matches are
// never disturbed.
type RouteTable struct {
	mu     sync.RWMutex
	routes []route
}

type route struct {
	prefix   string
	upstream Upstream
}

// NewRouteTable builds a table from config entries
func NewRouteTable(cfg *RouteConfig) (*RouteTable, error) {
	table := &RouteTable{}
	if err := table.load(cfg); err != nil {
		return nil, err
	}
	return table, nil
}

// LoadRouteConfig reads and parses a route file
func LoadRouteConfig(path string) (*RouteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route config: %w", err)
	}

	var cfg RouteConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse route config: %w", err)
	}
	if len(cfg.Routes) == 0 {
		return nil, fmt.Errorf("route config %s declares no routes", path)
	}
	return &cfg, nil
}

func (t *RouteTable) load(cfg *RouteConfig) error {
	routes := make([]route, 0, len(cfg.Routes))
	for _, entry := range cfg.Routes {
		if entry.PathPrefix == "" || !strings.HasPrefix(entry.PathPrefix, "/") {
			return fmt.Errorf("route path prefix %q must start with /", entry.PathPrefix)
		}
		upstream, err := parseUpstream(entry.Upstream)
		if err != nil {
			return err
		}
		routes = append(routes, route{prefix: entry.PathPrefix, upstream: upstream})
	}

	// Longest prefix first so /api/admin beats /api
	sort.Slice(routes, func(i, j int) bool {
		return len(routes[i].prefix) > len(routes[j].prefix)
	})

	t.mu.Lock()
	t.routes = routes
	t.mu.Unlock()
	return nil
}

// Match resolves a request path to its upstream
func (t *RouteTable) Match(path string) (Upstream, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, r := range t.routes {
		if strings.HasPrefix(path, r.prefix) {
			return r.upstream, true
		}
	}
	return Upstream{}, false
}

// Watch reloads the table whenever the route file changes. A broken
// edit is logged and the previous table stays in effect. The watcher
// runs until stop is closed.
func (t *RouteTable) Watch(path string, logger *observability.Logger, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create route watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch route config: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				cfg, err := LoadRouteConfig(path)
				if err != nil {
					logger.WithError(err).Error("route config reload failed, keeping previous routes")
					continue
				}
				if err := t.load(cfg); err != nil {
					logger.WithError(err).Error("route config reload failed, keeping previous routes")
					continue
				}
				logger.WithField("routes", len(cfg.Routes)).Info("route config reloaded")

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("route watcher error")

			case <-stop:
				return
			}
		}
	}()

	return nil
}
