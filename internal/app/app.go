package app

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"toolgate/internal/catalog"
	"toolgate/internal/credential"
	"toolgate/internal/gateway"
	"toolgate/internal/health"
	"toolgate/internal/inventory"
	"toolgate/internal/lifecycle"
	"toolgate/internal/pathmap"
	"toolgate/internal/registry"
	"toolgate/internal/router"
	"toolgate/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// App owns every subsystem of the running gateway.
type App struct {
	Config      *catalog.Config
	Credentials *credential.Store
	Registry    *registry.Registry
	Inventory   *inventory.Cache
	Lifecycle   *lifecycle.Manager
	Router      *router.Router
	Monitor     *health.Monitor
	Gateway     *gateway.Server

	cancel context.CancelFunc
}

// New assembles the gateway from the catalog. Nothing is started yet.
func New(cfg *catalog.Config) (*App, error) {
	a := &App{Config: cfg}

	// Credential bootstrap is the single place the ambient environment is
	// consulted; everything downstream receives values explicitly.
	a.Credentials = credential.NewStore()
	a.Credentials.LoadEnv(allRequiredKeys(cfg))
	if err := a.Credentials.LoadFile(cfg.Gateway.CredentialFile); err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	a.Credentials.Subscribe(func() {
		logging.Info("App", "Credentials updated; tool filtering recomputes on the next request")
	})

	host := registry.HostInfo{
		OS:         runtime.GOOS,
		HasDisplay: os.Getenv("DISPLAY") != "",
	}

	a.Registry = registry.New(a.Credentials, host)

	a.Inventory = inventory.NewCache(cfg.Gateway.InventoryFile)
	if err := a.Inventory.Load(); err != nil {
		logging.Warn("App", "Starting with an empty inventory: %v", err)
	}

	idleWindow := lifecycle.DefaultIdleWindow
	if cfg.Gateway.IdleMinutes > 0 {
		idleWindow = time.Duration(cfg.Gateway.IdleMinutes) * time.Minute
	}
	a.Lifecycle = lifecycle.NewManager(idleWindow, a.reapBackend)

	a.Registry.OnStateChange(func(id string, from, to registry.State, err error) {
		switch to {
		case registry.StateRunning:
			a.Lifecycle.Register(id)
		case registry.StateStopped, registry.StateFailed:
			a.Lifecycle.Unregister(id)
		}
	})

	for id, spec := range cfg.Servers {
		if err := a.Registry.Add(id, spec, cfg.AutoStart(id)); err != nil {
			return nil, fmt.Errorf("failed to register backend %s: %w", id, err)
		}
	}

	translator := pathmap.NewTranslator(volumeMappings(cfg))

	a.Router = router.New(a.Registry, a.Inventory, a.Credentials, a.Lifecycle, translator)
	a.Monitor = health.NewMonitor(a.Registry, health.DefaultInterval)
	a.Gateway = gateway.NewServer(gateway.Config{
		Host:   cfg.Gateway.Host,
		Port:   cfg.Gateway.Port,
		APIKey: cfg.Gateway.APIKey,
	}, a.Router, a.Registry, a.Lifecycle, a.Monitor)

	return a, nil
}

// Start brings everything up: background loops first, then the front
// endpoint, then the auto-start backends with their initial discovery.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.Credentials.Watch(runCtx); err != nil {
		logging.Warn("App", "Credential file watching disabled: %v", err)
	}

	go a.Lifecycle.Run(runCtx)
	go a.Monitor.Run(runCtx)

	if err := a.Gateway.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start gateway endpoint: %w", err)
	}

	a.autoStart(runCtx)

	logging.Info("App", "Gateway ready at %s", a.Gateway.Endpoint())
	return nil
}

// autoStart launches the configured backends in parallel and verifies their
// cached tools against a fresh discovery. A failing backend is logged and
// left for lazy start; it never blocks the gateway.
func (a *App) autoStart(ctx context.Context) {
	g, groupCtx := errgroup.WithContext(ctx)
	for _, backend := range a.Registry.List() {
		if !backend.AutoStart {
			continue
		}
		id := backend.ID
		g.Go(func() error {
			if err := a.Registry.Start(groupCtx, id); err != nil {
				logging.Warn("App", "Auto-start failed for %s: %v", id, err)
				return nil
			}
			b, _ := a.Registry.Get(id)
			client, err := b.Client()
			if err != nil {
				return nil
			}
			if _, err := a.Inventory.Discover(groupCtx, id, client); err != nil {
				logging.Warn("App", "Startup discovery failed for %s: %v", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logging.Warn("App", "Auto-start incomplete: %v", err)
	}
}

// Stop tears the gateway down: endpoint first (drains clients), then every
// running backend, then the background loops via context cancellation.
func (a *App) Stop(ctx context.Context) error {
	if err := a.Gateway.Stop(ctx); err != nil {
		logging.Warn("App", "Gateway endpoint stop: %v", err)
	}

	for _, backend := range a.Registry.List() {
		if backend.State() == registry.StateRunning {
			if err := a.Registry.Stop(backend.ID); err != nil {
				logging.Warn("App", "Failed to stop backend %s: %v", backend.ID, err)
			}
		}
	}

	if a.cancel != nil {
		a.cancel()
	}

	logging.Info("App", "Gateway stopped")
	return nil
}

// reapBackend is the lifecycle manager's callback for idle backends.
func (a *App) reapBackend(id string) {
	if err := a.Registry.Stop(id); err != nil {
		logging.Warn("App", "Idle reap of %s failed: %v", id, err)
		return
	}
	a.Inventory.Invalidate(id)
}

// allRequiredKeys unions every credential key the catalog references.
func allRequiredKeys(cfg *catalog.Config) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, spec := range cfg.Servers {
		for _, key := range spec.RequiredKeys {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// volumeMappings flattens every child backend's volume declarations into
// path translator mappings.
func volumeMappings(cfg *catalog.Config) []pathmap.Mapping {
	var mappings []pathmap.Mapping
	for _, spec := range cfg.Servers {
		for _, v := range spec.Volumes {
			mappings = append(mappings, pathmap.Mapping{
				HostPrefix:      v.HostPath,
				ContainerPrefix: v.ContainerPath,
			})
		}
	}
	return mappings
}
