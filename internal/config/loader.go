package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads YAML configuration with environment variable substitution
// and supports hot reload via fsnotify. Get and Load are safe for
// concurrent use.
type Loader struct {
	mu       sync.RWMutex
	cfg      *Config
	filePath string

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	onReload func(*Config)
	logger   *slog.Logger
}

// NewLoader creates a Loader initialized with defaults. Get is usable
// before any Load call.
func NewLoader() *Loader {
	return &Loader{
		cfg:    DefaultConfig(),
		logger: slog.Default().With("component", "config"),
	}
}

// Load reads the config file, substitutes ${VAR} and ${VAR:-default}
// references, and replaces the current config. Unset fields keep their
// defaults.
func (l *Loader) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	l.mu.Lock()
	l.cfg = cfg
	l.filePath = path
	l.mu.Unlock()

	l.logger.Info("config loaded", "path", path)
	return nil
}

// Get returns the current config.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// FilePath returns the path of the last loaded file, or "" before Load.
func (l *Loader) FilePath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filePath
}

// Reload re-reads the previously loaded file.
func (l *Loader) Reload() error {
	path := l.FilePath()
	if path == "" {
		return fmt.Errorf("no config file loaded, cannot reload")
	}
	return l.Load(path)
}

// Watch starts watching the config file for changes and reloads on write.
// The callback, if not nil, runs after each successful reload. The watch is
// on the containing directory because editors replace files instead of
// writing in place.
func (l *Loader) Watch(onReload func(*Config)) error {
	path := l.FilePath()
	if path == "" {
		return fmt.Errorf("no config file loaded, cannot watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	l.watcher = watcher
	l.stopCh = make(chan struct{})
	l.onReload = onReload

	go l.watchLoop(path)
	l.logger.Info("watching config file", "path", path)
	return nil
}

// StopWatch stops the file watcher.
func (l *Loader) StopWatch() {
	if l.watcher != nil {
		close(l.stopCh)
		l.watcher.Close()
		l.watcher = nil
	}
}

func (l *Loader) watchLoop(path string) {
	for {
		select {
		case <-l.stopCh:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := l.Reload(); err != nil {
				l.logger.Error("config reload failed, keeping previous config", "error", err)
				continue
			}
			if l.onReload != nil {
				l.onReload(l.Get())
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("config watcher error", "error", err)
		}
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// substituteEnvVars expands ${VAR} and ${VAR:-default} references. Unset
// variables without a default expand to the empty string.
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(groups[1]); ok {
			return val
		}
		return groups[3]
	})
}

// GenerateDefault writes a commented default config file to path.
func GenerateDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	header := "# promptcanary configuration\n# Values support ${VAR} and ${VAR:-default} environment substitution.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
