// Package app wires the server kernel together: storage layers,
// security, plug-ins, the procedure library, the web dispatcher and
// the background scheduler, behind a reset gate that lets the whole
// state be rebuilt while the process keeps serving.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/events"
	"github.com/hutchhq/hutch/pkg/log"
	"github.com/hutchhq/hutch/pkg/metrics"
	"github.com/hutchhq/hutch/pkg/plugin"
	"github.com/hutchhq/hutch/pkg/pool"
	"github.com/hutchhq/hutch/pkg/proc"
	"github.com/hutchhq/hutch/pkg/scheduler"
	"github.com/hutchhq/hutch/pkg/security"
	"github.com/hutchhq/hutch/pkg/session"
	"github.com/hutchhq/hutch/pkg/storage"
	"github.com/hutchhq/hutch/pkg/vault"
	"github.com/hutchhq/hutch/pkg/web"
)

// Maintenance task intervals.
const (
	CacheCleanInterval   = 30 * time.Second
	SessionSweepInterval = 60 * time.Minute
)

// PortFileName is written next to the local data when the HTTP
// listener binds, carrying the bound port number.
const PortFileName = "server.port"

// Options configure server construction.
type Options struct {
	// HTTPAddr is the web listener address; empty disables the
	// listener.
	HTTPAddr string

	// Properties names a JSON file preloading the /config dict.
	Properties string

	// Realm overrides the authentication realm.
	Realm string

	// Version is reported by the status surface.
	Version string
}

// Context owns the wired server kernel: storage tree, security,
// plug-ins, procedure library, dispatcher and background scheduler.
// Requests run under a read lock; Reset rebuilds the mutable state
// under the write lock, so in-flight requests finish on the old state
// before the swap.
type Context struct {
	baseDir  string
	localDir string
	opts     Options

	mu sync.RWMutex

	root       *storage.Root
	broker     *events.Broker
	vaults     *vault.Registry
	drivers    *pool.Drivers
	sec        *security.Manager
	lib        *proc.Library
	plugins    *plugin.Manager
	dispatcher *web.Dispatcher
	registry   *metrics.Registry
	sched      *scheduler.Scheduler
	config     *data.Dict

	server   *http.Server
	listener net.Listener
	started  time.Time

	log zerolog.Logger
}

// Init constructs and wires a server context. The storage layers are
// mounted (system read-only, local writable, bolt-backed metrics),
// built-in types and procedures registered, and maintenance tasks
// scheduled. Nothing runs until Start.
func Init(baseDir, localDir string, opts Options) (*Context, error) {
	a := &Context{
		baseDir:  baseDir,
		localDir: localDir,
		opts:     opts,
		started:  time.Now(),
		log:      log.WithComponent("app"),
	}
	if err := a.init(); err != nil {
		a.teardown()
		return nil, err
	}
	return a, nil
}

func (a *Context) init() error {
	if err := clearTempDir(a.localDir); err != nil {
		return fmt.Errorf("failed to clear temp dir: %w", err)
	}

	a.broker = events.NewBroker()
	a.broker.Start()
	a.root = storage.NewRoot(a.broker)
	a.registry = metrics.NewRegistry()

	if err := a.mountBaseLayers(); err != nil {
		return err
	}
	if err := a.loadConfig(); err != nil {
		return err
	}

	a.vaults = vault.NewRegistry()
	a.vaults.Register(vault.NewEnvVault("env", ""))
	a.drivers = pool.NewDrivers()
	a.sec = security.NewManager(a.root, a.opts.Realm)
	a.lib = proc.NewLibrary(a.root)
	a.plugins = plugin.NewManager(a.root, a.broker, a.localDir)

	a.registerTypes()
	a.registerProcedures()

	a.dispatcher = web.NewDispatcher(a.root, a.sec, a.broker, a.registry)
	a.registerServices()

	a.sched = scheduler.New()
	a.sched.Add("cache-clean", CacheCleanInterval, a.cleanTask)
	a.sched.Add("session-sweep", SessionSweepInterval, a.sweepTask)
	return nil
}

// mountBaseLayers mounts the system plug-in (read-only), the local
// writable layer (highest overlay priority) and the bolt-backed
// metrics store.
func (a *Context) mountBaseLayers() error {
	systemDir := filepath.Join(a.baseDir, "plugin", "system")
	if info, err := os.Stat(systemDir); err == nil && info.IsDir() {
		sys, err := storage.NewDirStorage(systemDir, true)
		if err != nil {
			return fmt.Errorf("failed to open system layer: %w", err)
		}
		mount := plugin.MountPath("system")
		if err := a.root.Mount(sys, mount); err != nil {
			return err
		}
		if err := a.root.Remount(mount, true, data.Root, 0); err != nil {
			return err
		}
	}

	localStorageDir := filepath.Join(a.localDir, "storage")
	if err := os.MkdirAll(localStorageDir, 0o755); err != nil {
		return fmt.Errorf("failed to create local layer: %w", err)
	}
	local, err := storage.NewDirStorage(localStorageDir, false)
	if err != nil {
		return fmt.Errorf("failed to open local layer: %w", err)
	}
	localMount := data.NewPath("/storage/local/")
	if err := a.root.Mount(local, localMount); err != nil {
		return err
	}
	if err := a.root.Remount(localMount, false, data.Root, 1000); err != nil {
		return err
	}

	metricsStore, err := storage.NewBoltStorage(filepath.Join(a.localDir, "metrics.db"), false)
	if err != nil {
		return fmt.Errorf("failed to open metrics store: %w", err)
	}
	return a.root.Mount(metricsStore, metrics.MetricsPath)
}

// loadConfig reads /config, preloading it from the properties file
// when one is named.
func (a *Context) loadConfig() error {
	if a.opts.Properties != "" {
		body, err := os.ReadFile(a.opts.Properties)
		if err != nil {
			return fmt.Errorf("failed to read properties: %w", err)
		}
		preload, err := data.Unmarshal(body)
		if err != nil {
			return fmt.Errorf("failed to parse properties: %w", err)
		}
		cfg, err := a.root.Load(plugin.ConfigPath)
		if err != nil {
			return err
		}
		if cfg == nil {
			cfg = data.NewDict()
		}
		if err := cfg.SetAll(preload); err != nil {
			return err
		}
		if err := a.root.Store(plugin.ConfigPath, cfg); err != nil {
			return err
		}
	}
	cfg, err := a.root.Load(plugin.ConfigPath)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = data.NewDict()
	}
	a.config = cfg
	return nil
}

// registerTypes registers the built-in object constructors and seeds
// their type descriptors when no layer provides them.
func (a *Context) registerTypes() {
	reg := a.root.Registry()
	security.RegisterTypes(reg)
	session.RegisterTypes(reg)
	web.RegisterTypes(reg)
	pool.RegisterTypes(reg, &pool.Env{
		Drivers: a.drivers,
		Vaults:  a.vaults,
		Metrics: a.registry,
	})

	for id, init := range map[string]string{
		storage.TypeDescType: storage.TypeInitializer,
		security.UserType:    security.UserInitializer,
		security.RoleType:    security.RoleInitializer,
		session.SessionType:  session.SessionInitializer,
		web.WebServiceType:   web.WebServiceInitializer,
		pool.ConnectionType:  pool.ConnectionInitializer,
		proc.ProcedureType:   proc.ProcedureInitializer,
	} {
		path := storage.TypePath.Child(id, false)
		existing, err := a.root.Load(path)
		if err != nil || existing != nil {
			continue
		}
		d := data.NewDict()
		d.Set("id", id)
		d.Set("type", "type")
		d.Set("initializer", init)
		if err := a.root.Store(path, d); err != nil {
			a.log.Warn().Err(err).Str("typeId", id).Msg("Type descriptor seeding failed")
		}
	}
}

// registerServices wires the built-in web services.
func (a *Context) registerServices() {
	a.dispatcher.RegisterService("status",
		web.NewStatusService(a.root, a.broker, a.opts.Version),
		web.NewMatcher(http.MethodGet, "/status", false, 0))
	a.dispatcher.RegisterService("metrics",
		web.NewMetricsService(),
		web.NewMatcher(http.MethodGet, "/metrics", false, 0))
	a.dispatcher.RegisterService("proc",
		web.NewProcService(a.CallContext),
		web.NewMatcher(http.MethodPost, "/proc/", false, 0))
}

// CallContext creates a procedure call context bound to the current
// kernel state.
func (a *Context) CallContext(r *http.Request) *proc.CallContext {
	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}
	return proc.NewCallContext(ctx, a.root, a.lib, a.sec, a.registry, proc.DefaultChain(a.sec))
}

// Start loads the configured plug-ins, builds the matcher table,
// boots the scheduler and binds the HTTP listener.
func (a *Context) Start() error {
	if err := a.plugins.LoadConfigured(); err != nil {
		return err
	}
	if err := a.dispatcher.RebuildMatchers(); err != nil {
		return err
	}
	a.sched.Start()

	if a.opts.HTTPAddr != "" {
		if err := a.listen(); err != nil {
			return err
		}
	}
	a.broker.Emit(events.EventServerStarted, "/", a.opts.Version)
	a.log.Info().Str("addr", a.opts.HTTPAddr).Str("version", a.opts.Version).Msg("Server started")
	return nil
}

func (a *Context) listen() error {
	ln, err := net.Listen("tcp", a.opts.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", a.opts.HTTPAddr, err)
	}
	a.listener = ln
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		port := []byte(strconv.Itoa(addr.Port) + "\n")
		if err := os.WriteFile(filepath.Join(a.localDir, PortFileName), port, 0o644); err != nil {
			a.log.Warn().Err(err).Msg("Port file write failed")
		}
	}
	a.server = &http.Server{Handler: a.Handler()}
	go func() {
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.log.Error().Err(err).Msg("HTTP server failed")
		}
	}()
	return nil
}

// Handler returns the request entry point. Every request holds the
// context read lock for its duration, so a concurrent Reset waits for
// in-flight requests and new requests wait for the reset.
func (a *Context) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.RLock()
		defer a.mu.RUnlock()
		a.dispatcher.ServeHTTP(w, r)
	})
}

// Reset rebuilds the mutable kernel state: caches are written back
// and dropped, plug-ins reloaded in order and the matcher table
// rebuilt. The listener and storage mounts for the base layers stay
// up.
func (a *Context) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sched.Stop()
	a.root.CleanCache(time.Now(), true)
	if err := a.plugins.Reset(); err != nil {
		a.sched.Start()
		return err
	}
	if err := a.loadConfig(); err != nil {
		a.sched.Start()
		return err
	}
	if err := a.dispatcher.RebuildMatchers(); err != nil {
		a.sched.Start()
		return err
	}
	a.sched.Start()
	a.broker.Emit(events.EventServerReset, "/", "")
	a.log.Info().Msg("Server reset")
	return nil
}

// InstallPlugin installs a bundle file.
func (a *Context) InstallPlugin(file string) (string, error) {
	return a.plugins.Install(file)
}

// LoadPlugin loads an installed plug-in and rebuilds the matcher
// table. The plug-in manager and the matcher table carry their own
// locks, so this is safe to call from a running request.
func (a *Context) LoadPlugin(id string) error {
	if err := a.plugins.Load(id); err != nil {
		return err
	}
	return a.dispatcher.RebuildMatchers()
}

// UnloadPlugin unloads a plug-in and rebuilds the matcher table.
func (a *Context) UnloadPlugin(id string) error {
	if err := a.plugins.Unload(id); err != nil {
		return err
	}
	return a.dispatcher.RebuildMatchers()
}

// Stop shuts the server down: listener closed, scheduler stopped,
// metrics and caches written back, storages unmounted.
func (a *Context) Stop() error {
	a.broker.Emit(events.EventServerStopping, "/", "")
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
		os.Remove(filepath.Join(a.localDir, PortFileName))
	}
	err := a.teardown()
	a.log.Info().Msg("Server stopped")
	return err
}

func (a *Context) teardown() error {
	if a.sched != nil {
		a.sched.Stop()
	}
	var err error
	if a.root != nil {
		if a.registry != nil {
			if ferr := a.registry.Flush(a.root); ferr != nil {
				err = ferr
			}
		}
		if cerr := a.root.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if a.broker != nil {
		a.broker.Stop()
	}
	return err
}

// Accessors for the wired collaborators.

func (a *Context) Storage() *storage.Root      { return a.root }
func (a *Context) Security() *security.Manager { return a.sec }
func (a *Context) Library() *proc.Library      { return a.lib }
func (a *Context) Plugins() *plugin.Manager    { return a.plugins }
func (a *Context) Dispatcher() *web.Dispatcher { return a.dispatcher }
func (a *Context) Broker() *events.Broker      { return a.broker }
func (a *Context) Vaults() *vault.Registry     { return a.vaults }
func (a *Context) Drivers() *pool.Drivers      { return a.drivers }
func (a *Context) Metrics() *metrics.Registry  { return a.registry }
func (a *Context) Config() *data.Dict          { return a.config }

// Addr returns the bound listener address, or an empty string.
func (a *Context) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// cleanTask passivates cached objects, evicts the inactive ones and
// writes back the call metrics.
func (a *Context) cleanTask() error {
	a.root.CleanCache(time.Now(), false)
	return a.registry.Flush(a.root)
}

// sweepTask removes expired sessions and sessions of unusable users.
func (a *Context) sweepTask() error {
	removed := session.RemoveExpired(a.root, a.broker, func(id string) bool {
		u, err := a.sec.User(id)
		return err == nil && u != nil && u.IsEnabled()
	})
	if removed > 0 {
		a.log.Info().Int("removed", removed).Msg("Expired sessions swept")
	}
	return nil
}

// clearTempDir empties tmp/ under the local dir and recreates it.
func clearTempDir(localDir string) error {
	tmp := filepath.Join(localDir, "tmp")
	if err := os.RemoveAll(tmp); err != nil {
		return err
	}
	return os.MkdirAll(tmp, 0o755)
}

// TempDir returns the per-install scratch directory, cleared on every
// start.
func (a *Context) TempDir() string {
	return filepath.Join(a.localDir, "tmp")
}
