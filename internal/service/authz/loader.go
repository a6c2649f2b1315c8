package authz

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/metrics"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/errors"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
)

const reloadDebounce = 100 * time.Millisecond

var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true, "OPTIONS": true, "HEAD": true,
}

// RouteFile is the on-disk format of a route map.
type RouteFile struct {
	Routes []RouteEntry `yaml:"routes" jsonschema:"required,minItems=1"`
}

// RouteEntry grants access to one method and path.
type RouteEntry struct {
	Method      string   `yaml:"method" jsonschema:"required,enum=GET,enum=POST,enum=PUT,enum=DELETE,enum=PATCH,enum=OPTIONS,enum=HEAD"`
	Path        string   `yaml:"path" jsonschema:"required,pattern=^/"`
	Permissions []string `yaml:"permissions" jsonschema:"required,minItems=1,description=Every listed permission is required."`
}

// ParseRoutes decodes and validates a YAML route map.
func ParseRoutes(data []byte) (RouteMap, error) {
	var f RouteFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrPermissionMapInvalid, err)
	}
	if len(f.Routes) == 0 {
		return nil, fmt.Errorf("%w: no routes", errors.ErrPermissionMapInvalid)
	}

	routes := make(RouteMap, len(f.Routes))
	for i, r := range f.Routes {
		method := strings.ToUpper(strings.TrimSpace(r.Method))
		if !knownMethods[method] {
			return nil, fmt.Errorf("%w: route %d: unknown method %q", errors.ErrPermissionMapInvalid, i, r.Method)
		}
		if !strings.HasPrefix(r.Path, "/") {
			return nil, fmt.Errorf("%w: route %d: path must start with /", errors.ErrPermissionMapInvalid, i)
		}
		perms := domain.NewPermissionSet(r.Permissions...)
		if len(perms) == 0 {
			return nil, fmt.Errorf("%w: route %d: at least one permission is required", errors.ErrPermissionMapInvalid, i)
		}
		key := RouteKey(method, r.Path)
		if _, dup := routes[key]; dup {
			return nil, fmt.Errorf("%w: duplicate route %q", errors.ErrPermissionMapInvalid, key)
		}
		routes[key] = perms
	}
	return routes, nil
}

// LoadFile reads a route map from path.
func LoadFile(path string) (RouteMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read permission map: %w", err)
	}
	return ParseRoutes(data)
}

// NewFromConfig builds an authorizer from the configured file, or the
// built-in map when none is set.
func NewFromConfig(cfg config.PermissionsConfig, m *metrics.Metrics) (*Authorizer, error) {
	if cfg.File == "" {
		return NewAuthorizer(DefaultRoutes(), m), nil
	}
	routes, err := LoadFile(cfg.File)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded permission map", logger.String("path", cfg.File), logger.Int("routes", len(routes)))
	return NewAuthorizer(routes, m), nil
}

// Reload re-reads path. A bad file leaves the active map untouched.
func (a *Authorizer) Reload(path string) error {
	routes, err := LoadFile(path)
	if err != nil {
		a.metrics.RecordPermissionReload(false)
		return err
	}
	a.Replace(routes)
	a.metrics.RecordPermissionReload(true)
	return nil
}

// Watch reloads the map whenever path changes, until ctx is done. The
// parent directory is watched so atomic renames are seen.
func (a *Authorizer) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	logger.Info("watching permission map", logger.String("path", path))

	go a.watchLoop(ctx, watcher, path)
	return nil
}

func (a *Authorizer) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer watcher.Close()

	target, _ := filepath.Abs(path)
	var (
		timer *time.Timer
		mu    sync.Mutex
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if abs, _ := filepath.Abs(event.Name); abs != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				if err := a.Reload(path); err != nil {
					logger.Error("permission map reload failed, keeping previous map",
						logger.String("path", path), logger.Err(err))
					return
				}
				logger.Info("permission map reloaded",
					logger.String("path", path), logger.Int("routes", len(a.Routes())))
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("permission map watcher error", logger.Err(err))
		}
	}
}
