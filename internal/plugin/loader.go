package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Loader discovers Lua plugins on the filesystem.
type Loader struct {
	// Search paths for plugins (checked in order)
	paths []string

	discovered map[string]*PluginInfo
}

// PluginInfo contains discovery information about a Lua plugin.
type PluginInfo struct {
	Name     string
	Path     string
	Manifest *Manifest
	Error    error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths sets the plugin search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// NewLoader creates a new plugin loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		paths:      DefaultPluginPaths(),
		discovered: make(map[string]*PluginInfo),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultPluginPaths returns the default plugin search paths:
// $XDG_CONFIG_HOME/panelbus/plugins, then ~/.local/share/panelbus/plugins.
func DefaultPluginPaths() []string {
	paths := make([]string, 0, 2)

	configHome := os.Getenv("XDG_CONFIG_HOME")
	home, err := os.UserHomeDir()
	if configHome == "" && err == nil {
		configHome = filepath.Join(home, ".config")
	}
	if configHome != "" {
		paths = append(paths, filepath.Join(configHome, "panelbus", "plugins"))
	}
	if err == nil {
		paths = append(paths, filepath.Join(home, ".local", "share", "panelbus", "plugins"))
	}
	return paths
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	return l.paths
}

// Discover finds all plugins in the search paths, sorted by name.
// Missing search paths are skipped. When two paths hold a plugin with
// the same name the first path wins.
func (l *Loader) Discover() ([]*PluginInfo, error) {
	l.discovered = make(map[string]*PluginInfo)

	var firstErr error
	for _, basePath := range l.paths {
		if err := l.discoverInPath(basePath); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	plugins := make([]*PluginInfo, 0, len(l.discovered))
	for _, info := range l.discovered {
		plugins = append(plugins, info)
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Name < plugins[j].Name
	})
	return plugins, firstErr
}

func (l *Loader) discoverInPath(basePath string) error {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read plugin directory %s: %w", basePath, err)
	}

	for _, entry := range entries {
		var info *PluginInfo
		switch {
		case entry.IsDir():
			info = inspectPlugin(entry.Name(), filepath.Join(basePath, entry.Name()))
		case filepath.Ext(entry.Name()) == ".lua":
			name := strings.TrimSuffix(entry.Name(), ".lua")
			manifest := NewManifestMinimal(name, basePath)
			manifest.Main = entry.Name()
			info = &PluginInfo{Name: name, Path: basePath, Manifest: manifest}
		default:
			continue
		}

		if _, exists := l.discovered[info.Name]; !exists {
			l.discovered[info.Name] = info
		}
	}
	return nil
}

// inspectPlugin examines a plugin directory and returns its info.
func inspectPlugin(name, path string) *PluginInfo {
	info := &PluginInfo{Name: name, Path: path}

	manifestPath := filepath.Join(path, ManifestFile)
	if _, err := os.Stat(manifestPath); err == nil {
		manifest, err := LoadManifest(manifestPath)
		if err != nil {
			info.Error = fmt.Errorf("invalid manifest: %w", err)
			return info
		}
		info.Manifest = manifest
		info.Name = manifest.Name
		if _, err := os.Stat(manifest.MainPath()); err != nil {
			info.Error = fmt.Errorf("%w: %s", ErrNoEntryPoint, manifest.Main)
		}
		return info
	}

	if _, err := os.Stat(filepath.Join(path, "init.lua")); err == nil {
		info.Manifest = NewManifestMinimal(name, path)
		return info
	}

	info.Error = ErrNoEntryPoint
	return info
}

// Get returns info for a discovered plugin.
func (l *Loader) Get(name string) (*PluginInfo, bool) {
	info, ok := l.discovered[name]
	return info, ok
}

// FindPlugin returns the discovered plugin called name.
func (l *Loader) FindPlugin(name string) (*PluginInfo, error) {
	if info, ok := l.discovered[name]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
}
