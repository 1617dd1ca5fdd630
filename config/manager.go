package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
)

// Manager loads Settings from, in order of precedence: the process
// environment, an optional .env file, an optional JSON settings file, and the
// built-in defaults.
type Manager struct {
	fs         afero.Fs
	path       string
	dotenvPath string
	environ    func() []string
}

// NewManager returns a manager that reads the JSON settings file at path. An
// empty path skips the file layer.
func NewManager(path string) *Manager {
	return &Manager{
		fs:         afero.NewOsFs(),
		path:       strings.TrimSpace(path),
		dotenvPath: ".env",
		environ:    os.Environ,
	}
}

// WithFs swaps the filesystem used for the settings and .env files.
func (m *Manager) WithFs(fsys afero.Fs) *Manager {
	m.fs = fsys
	return m
}

// WithDotenv changes the .env location. An empty path disables .env loading.
func (m *Manager) WithDotenv(path string) *Manager {
	m.dotenvPath = strings.TrimSpace(path)
	return m
}

// WithEnviron replaces the process environment lookup, mainly for tests.
func (m *Manager) WithEnviron(environ func() []string) *Manager {
	m.environ = environ
	return m
}

// Load assembles and validates the settings.
func (m *Manager) Load() (Settings, error) {
	settings := DefaultSettings()

	if m.path != "" {
		data, err := afero.ReadFile(m.fs, m.path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Settings{}, fmt.Errorf("read settings %s: %w", m.path, err)
		default:
			if err := json.Unmarshal(data, &settings); err != nil {
				return Settings{}, fmt.Errorf("decode settings %s: %w", m.path, err)
			}
		}
	}

	environment, err := m.environment()
	if err != nil {
		return Settings{}, err
	}
	if err := env.ParseWithOptions(&settings, env.Options{Environment: environment}); err != nil {
		return Settings{}, fmt.Errorf("parse env config: %w", err)
	}

	settings.Resolver.ProviderURL = strings.TrimSpace(settings.Resolver.ProviderURL)
	settings.Resolver.APIKey = strings.TrimSpace(settings.Resolver.APIKey)
	settings.Resolver.RetryPolicy = strings.ToLower(strings.TrimSpace(settings.Resolver.RetryPolicy))
	settings.Media.AllowedDomains = normalizeDomains(settings.Media.AllowedDomains)

	if err := settings.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

// Save writes settings as indented JSON to the manager's path. The server's
// -write-config flag uses it to dump the effective configuration.
func (m *Manager) Save(settings Settings) error {
	if m.path == "" {
		return fmt.Errorf("no settings path configured")
	}
	if dir := filepath.Dir(m.path); dir != "" && dir != "." {
		if err := m.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := afero.WriteFile(m.fs, m.path, data, 0o644); err != nil {
		return fmt.Errorf("write settings %s: %w", m.path, err)
	}
	return nil
}

// environment merges .env values with the real environment; real variables win.
func (m *Manager) environment() (map[string]string, error) {
	merged := make(map[string]string)

	if m.dotenvPath != "" {
		file, err := m.fs.Open(m.dotenvPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("open %s: %w", m.dotenvPath, err)
		default:
			values, parseErr := godotenv.Parse(file)
			file.Close()
			if parseErr != nil {
				return nil, fmt.Errorf("parse %s: %w", m.dotenvPath, parseErr)
			}
			for k, v := range values {
				merged[k] = v
			}
		}
	}

	if m.environ != nil {
		for _, kv := range m.environ() {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			merged[key] = value
		}
	}
	return merged, nil
}

func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	seen := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "www.")
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
