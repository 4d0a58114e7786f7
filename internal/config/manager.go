package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Manager holds the active configuration and applies runtime updates
// atomically: an update that fails validation leaves the previous config in
// place.
type Manager struct {
	mu     sync.RWMutex
	viper  *viper.Viper
	active *Config
}

// NewManager wraps an already-loaded config and its viper instance.
func NewManager(cfg *Config, v *viper.Viper) *Manager {
	if v == nil {
		v = newViper()
	}
	return &Manager{viper: v, active: cfg}
}

// Get returns the active configuration. Callers must not mutate it.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Update applies dot-path overrides (e.g. "solver.time_limit_seconds": 20)
// and swaps the active config if the result validates.
func (m *Manager) Update(patch map[string]any) (*Config, error) {
	if len(patch) == 0 {
		return nil, errors.New("empty config update")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Stage on a fresh viper so a rejected patch leaves no residue.
	staged := newViper()
	if err := staged.MergeConfigMap(m.viper.AllSettings()); err != nil {
		return nil, errors.Wrap(err, "failed to stage config update")
	}
	for key, value := range patch {
		staged.Set(key, value)
	}

	var cfg Config
	if err := staged.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config update")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.viper = staged
	m.active = &cfg
	return &cfg, nil
}

// Export marshals the active config as "yaml" or "json".
func (m *Manager) Export(format string) ([]byte, error) {
	cfg := m.Get()
	switch format {
	case "yaml", "":
		return yaml.Marshal(cfg)
	case "json":
		return json.MarshalIndent(cfg, "", "  ")
	default:
		return nil, errors.Errorf("unsupported export format %q (yaml, json)", format)
	}
}

// Digest returns a short fingerprint of the active config, for diagnostics.
func (m *Manager) Digest() string {
	raw, err := json.Marshal(m.Get())
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}
