// Package plugin installs, loads and unloads plug-in bundles: zip
// archives shaped like storage trees that overlay the root path and
// extend the server with objects, web services and procedures.
package plugin

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/events"
	"github.com/hutchhq/hutch/pkg/log"
	"github.com/hutchhq/hutch/pkg/metrics"
	"github.com/hutchhq/hutch/pkg/storage"
)

// PluginMountRoot is the storage prefix plug-in trees mount under.
var PluginMountRoot = data.NewPath("/storage/plugin/")

// ConfigPath is the server configuration object carrying the list of
// plug-ins to load at start.
var ConfigPath = data.NewPath("/config")

// maxBundleEntry bounds one decompressed bundle entry.
const maxBundleEntry = 64 << 20

// Manager installs, loads and unloads plug-in bundles. A bundle is a
// ZIP file shaped like a storage tree with a plugin.json manifest at
// the root; loading mounts the unpacked tree and overlays it on the
// root path so its objects shadow or extend the system layer.
type Manager struct {
	root     *storage.Root
	broker   *events.Broker
	localDir string

	mu     sync.Mutex
	loaded map[string]*Manifest
	order  []string

	log zerolog.Logger
}

// NewManager creates a plug-in manager rooted at localDir, the
// writable installation area.
func NewManager(root *storage.Root, broker *events.Broker, localDir string) *Manager {
	return &Manager{
		root:     root,
		broker:   broker,
		localDir: localDir,
		loaded:   make(map[string]*Manifest),
		log:      log.WithComponent("plugin"),
	}
}

// MountPath returns the storage mount point for a plug-in id.
func MountPath(id string) data.Path {
	return PluginMountRoot.Child(id, true)
}

// Install unpacks a bundle file into the local plug-in area and
// returns the plug-in id. The manifest id wins over the file stem; a
// bundle without either is rejected. An installed but unloaded prior
// version is replaced atomically by unpacking to a staging directory
// and renaming it into place.
func (m *Manager) Install(file string) (string, error) {
	archive, err := zip.OpenReader(file)
	if err != nil {
		return "", opError("install", "", err)
	}
	defer archive.Close()

	manifest, err := readManifest(&archive.Reader)
	if err != nil {
		return "", opError("install", "", err)
	}
	id := manifest.ID
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}
	if id == "" || strings.ContainsAny(id, "/\\.") {
		return "", opErrorf("install", id, "invalid plugin id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loaded[id]; ok {
		return "", opErrorf("install", id, "plugin is loaded")
	}

	pluginDir := filepath.Join(m.localDir, "plugin")
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		return "", opError("install", id, err)
	}
	staging, err := os.MkdirTemp(pluginDir, "."+id+"-staging-")
	if err != nil {
		return "", opError("install", id, err)
	}
	defer os.RemoveAll(staging)

	if err := unpack(&archive.Reader, staging); err != nil {
		return "", opError("install", id, err)
	}
	target := filepath.Join(pluginDir, id)
	if err := os.RemoveAll(target); err != nil {
		return "", opError("install", id, err)
	}
	if err := os.Rename(staging, target); err != nil {
		return "", opError("install", id, err)
	}

	m.log.Info().Str("plugin", id).Str("version", manifest.Version).Msg("Plugin installed")
	if m.broker != nil {
		m.broker.Emit(events.EventPluginInstalled, MountPath(id).String(), manifest.Version)
	}
	return id, nil
}

// Load mounts an installed plug-in and overlays it on the root path.
// The operation is atomic: when the overlay or the configuration
// update fails the mount is rolled back and the configuration stays
// untouched.
func (m *Manager) Load(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(id)
}

func (m *Manager) load(id string) error {
	if _, ok := m.loaded[id]; ok {
		return opErrorf("load", id, "already loaded")
	}
	backing, err := m.open(id)
	if err != nil {
		return opError("load", id, err)
	}

	mount := MountPath(id)
	if err := m.root.Mount(backing, mount); err != nil {
		backing.Close()
		return opError("load", id, err)
	}
	manifest, err := m.manifestFor(mount)
	if err != nil {
		m.root.Unmount(mount)
		return opError("load", id, err)
	}
	if err := m.root.Remount(mount, true, data.Root, manifest.Priority); err != nil {
		m.root.Unmount(mount)
		return opError("load", id, err)
	}
	if err := m.addToConfig(id); err != nil {
		m.root.Unmount(mount)
		return opError("load", id, err)
	}
	m.root.FlushCache(data.Root)

	m.loaded[id] = manifest
	m.order = append(m.order, id)
	metrics.PluginsLoaded.Inc()
	m.log.Info().Str("plugin", id).Str("version", manifest.Version).Msg("Plugin loaded")
	if m.broker != nil {
		m.broker.Emit(events.EventPluginLoaded, mount.String(), manifest.Version)
	}
	return nil
}

// Unload unmounts a loaded plug-in and drops it from the
// configuration.
func (m *Manager) Unload(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unload(id)
}

func (m *Manager) unload(id string) error {
	manifest, ok := m.loaded[id]
	if !ok {
		return opErrorf("unload", id, "not loaded")
	}
	if err := m.removeFromConfig(id); err != nil {
		return opError("unload", id, err)
	}
	if err := m.root.Unmount(MountPath(id)); err != nil {
		return opError("unload", id, err)
	}
	m.root.FlushCache(data.Root)

	delete(m.loaded, id)
	for i, loaded := range m.order {
		if loaded == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	metrics.PluginsLoaded.Dec()
	m.log.Info().Str("plugin", id).Msg("Plugin unloaded")
	if m.broker != nil {
		m.broker.Emit(events.EventPluginUnloaded, MountPath(id).String(), manifest.Version)
	}
	return nil
}

// Reset unloads every plug-in and reloads them in their original load
// order. The first failure stops the reload.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := append([]string{}, m.order...)
	for i := len(order) - 1; i >= 0; i-- {
		if err := m.unload(order[i]); err != nil {
			return err
		}
	}
	for _, id := range order {
		if err := m.load(id); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfigured loads the plug-ins named by the configuration's
// plugins list, skipping already loaded ones. Individual failures are
// logged and do not stop the remaining loads.
func (m *Manager) LoadConfigured() error {
	cfg, err := m.root.Load(ConfigPath)
	if err != nil {
		return opError("load", "", err)
	}
	if cfg == nil {
		return nil
	}
	for _, id := range cfg.GetStrings("plugins") {
		m.mu.Lock()
		_, ok := m.loaded[id]
		m.mu.Unlock()
		if ok {
			continue
		}
		if err := m.Load(id); err != nil {
			m.log.Warn().Err(err).Str("plugin", id).Msg("Configured plugin failed to load")
		}
	}
	return nil
}

// Loaded returns the manifests of the loaded plug-ins in load order.
func (m *Manager) Loaded() []*Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Manifest, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.loaded[id])
	}
	return out
}

// IsLoaded reports whether a plug-in is currently loaded.
func (m *Manager) IsLoaded(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loaded[id]
	return ok
}

// Installed returns the ids of the plug-ins present in the local
// installation area.
func (m *Manager) Installed() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(m.localDir, "plugin"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, opError("list", "", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if entry.IsDir() {
			ids = append(ids, name)
		} else if strings.HasSuffix(name, ".zip") {
			ids = append(ids, strings.TrimSuffix(name, ".zip"))
		}
	}
	return ids, nil
}

// open creates the storage backing for an installed plug-in:
// an unpacked directory or, failing that, a raw zip bundle.
func (m *Manager) open(id string) (storage.Storage, error) {
	dir := filepath.Join(m.localDir, "plugin", id)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return storage.NewDirStorage(dir, true)
	}
	file := dir + ".zip"
	if _, err := os.Stat(file); err == nil {
		return storage.NewZipStorage(file)
	}
	return nil, fmt.Errorf("not installed")
}

// manifestFor reads a mounted plug-in's manifest.
func (m *Manager) manifestFor(mount data.Path) (*Manifest, error) {
	d, err := m.root.Load(mount.Resolve(ManifestPath))
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("bundle has no %s", ManifestName)
	}
	return ParseManifest(d), nil
}

func (m *Manager) addToConfig(id string) error {
	cfg, err := m.root.Load(ConfigPath)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = data.NewDict()
	}
	plugins := cfg.GetStrings("plugins")
	for _, p := range plugins {
		if p == id {
			return nil
		}
	}
	list := data.NewList()
	for _, p := range plugins {
		list.Add(p)
	}
	list.Add(id)
	cfg.Set("plugins", list)
	return m.root.Store(ConfigPath, cfg)
}

func (m *Manager) removeFromConfig(id string) error {
	cfg, err := m.root.Load(ConfigPath)
	if err != nil {
		return err
	}
	if cfg == nil {
		return nil
	}
	list := data.NewList()
	found := false
	for _, p := range cfg.GetStrings("plugins") {
		if p == id {
			found = true
			continue
		}
		list.Add(p)
	}
	if !found {
		return nil
	}
	cfg.Set("plugins", list)
	return m.root.Store(ConfigPath, cfg)
}

// readManifest locates and parses plugin.json in a bundle.
func readManifest(r *zip.Reader) (*Manifest, error) {
	for _, f := range r.File {
		if f.Name != ManifestName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		body, err := io.ReadAll(io.LimitReader(rc, maxBundleEntry))
		if err != nil {
			return nil, err
		}
		d, err := data.Unmarshal(body)
		if err != nil {
			return nil, fmt.Errorf("malformed %s: %w", ManifestName, err)
		}
		return ParseManifest(d), nil
	}
	return nil, fmt.Errorf("bundle has no %s", ManifestName)
}

// unpack extracts a bundle into dir, rejecting entries that escape it.
func unpack(r *zip.Reader, dir string) error {
	for _, f := range r.File {
		name := filepath.Clean(f.Name)
		if name == "." || strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			return fmt.Errorf("bundle entry escapes archive: %s", f.Name)
		}
		target := filepath.Join(dir, name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := writeEntry(f, target); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, io.LimitReader(rc, maxBundleEntry)); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
