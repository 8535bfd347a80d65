// Package config handles configuration loading, validation, and persistence
// for the VoxelCraft proxy.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir    = "config"
	DefaultConfigFile   = "config.json"
	DefaultPort         = 3001
	DefaultAPIPort      = 3002
	DefaultUpstreamPort = 25565
)

// Config is the root configuration structure. The top-level keys keep the
// names used by existing proxy installations so old config files still load.
type Config struct {
	mu       sync.RWMutex
	path     string
	firstRun bool

	Port                      int            `json:"port"`
	Address                   string         `json:"address"`
	Name                      string         `json:"name"`
	Motd                      string         `json:"motd"`
	Public                    bool           `json:"public"`
	MaxPlayers                int            `json:"maxplayers"`
	ChunkTransportCompression bool           `json:"chunkTransportCompression"`
	Connect                   UpstreamTarget `json:"connect"`
	Username                  string         `json:"username"`
	Password                  string         `json:"password"`

	BlocksFile   string `json:"blocks_file"`
	MovementFile string `json:"movement_file"`

	API      APIConfig      `json:"api"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Database DatabaseConfig `json:"database"`
	Timers   TimerConfig    `json:"timers"`
	Logging  LoggingConfig  `json:"logging"`
}

// UpstreamTarget is the address of the block-game server sessions connect to.
type UpstreamTarget struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// APIConfig holds REST status API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	// Token guards monitor and control routes. Empty restricts them to
	// loopback clients.
	Token string `json:"token"`
}

// MQTTConfig holds heartbeat broker settings. Used only when Public is set.
type MQTTConfig struct {
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// DatabaseConfig holds session ledger settings.
type DatabaseConfig struct {
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
	PruneTime     string `json:"prune_time"`
}

// TimerConfig holds periodic task intervals.
type TimerConfig struct {
	HeartbeatInterval  int `json:"heartbeat_interval_sec"`
	StaleCheckInterval int `json:"stale_check_interval_sec"`
	LoginTimeout       int `json:"login_timeout_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with the stock proxy defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:       DefaultPort,
		Address:    "0.0.0.0",
		Name:       "MCServer",
		Motd:       "Another Minecraft2VoxelSRV proxy",
		Public:     false,
		MaxPlayers: 10,
		Connect: UpstreamTarget{
			Address: "localhost",
			Port:    DefaultUpstreamPort,
		},
		MovementFile: "movement.yaml",
		API: APIConfig{
			Enabled:      true,
			Port:         DefaultAPIPort,
			RateLimitRPS: 50,
		},
		MQTT: MQTTConfig{
			Port:        8883,
			UseTLS:      true,
			TopicPrefix: "voxelcraft",
		},
		Database: DatabaseConfig{
			Path:          "sessions.db",
			RetentionDays: 30,
			PruneTime:     "04:00",
		},
		Timers: TimerConfig{
			HeartbeatInterval:  60,
			StaleCheckInterval: 120,
			LoginTimeout:       10,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from configDir, creating the directory and a
// default file when absent. Persisted values are overlaid onto defaults and
// the merged result is written back.
func Load(configDir string) (*Config, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			cfg.firstRun = true
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// UpstreamAddr returns host:port of the upstream server.
func (c *Config) UpstreamAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Connect.Address, c.Connect.Port)
}

// ListenAddr returns host:port for the downstream websocket listener.
func (c *Config) ListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// ListenPort returns the downstream websocket port.
func (c *Config) ListenPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Port
}

// Upstream returns the upstream target.
func (c *Config) Upstream() UpstreamTarget {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Connect
}

// Listing returns the name, motd and player limit advertised to clients.
func (c *Config) Listing() (name, motd string, maxPlayers int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Name, c.Motd, c.MaxPlayers
}

// ChunkCompression reports whether column payloads are compressed.
func (c *Config) ChunkCompression() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ChunkTransportCompression
}

// LoginTimeout returns how long a client has to answer LoginRequest.
func (c *Config) LoginTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Timers.LoginTimeout) * time.Second
}

// Credentials returns the configured upstream username and password.
func (c *Config) Credentials() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Username, c.Password
}

// ResolveDir returns p unchanged when absolute, otherwise joined onto the
// directory holding the config file.
func (c *Config) ResolveDir(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(c.path), p)
}

// UpdateField sets a single top-level field by its JSON key.
func (c *Config) UpdateField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown config field %s", key)
	}
	m[key] = value

	updated, _ := json.Marshal(m)
	if err := json.Unmarshal(updated, c); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}

	return nil
}

// APIToken returns the bearer token guarding the REST API.
func (c *Config) APIToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API.Token
}

// Export returns the configuration as a JSON-style map with secrets blanked.
func (c *Config) Export() map[string]interface{} {
	c.mu.RLock()
	data, _ := json.Marshal(c)
	c.mu.RUnlock()

	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	if v, _ := m["password"].(string); v != "" {
		m["password"] = "********"
	}
	if api, ok := m["api"].(map[string]interface{}); ok {
		if v, _ := api["token"].(string); v != "" {
			api["token"] = "********"
		}
	}
	return m
}

// Field returns the current value of a top-level field by its JSON key.
func (c *Config) Field(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, _ := json.Marshal(c)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	v, ok := m[key]
	return v, ok
}

// SetField updates a top-level field, validates the result and saves it.
// An update that fails validation is rolled back and the validation
// result is returned alongside the error.
func (c *Config) SetField(key string, value interface{}) (*ValidationResult, error) {
	old, ok := c.Field(key)
	if !ok {
		return nil, fmt.Errorf("unknown config field %s", key)
	}

	if err := c.UpdateField(key, value); err != nil {
		return nil, err
	}

	result := Validate(c)
	if !result.IsValid() {
		if err := c.UpdateField(key, old); err != nil {
			log.Error().Err(err).Str("key", key).Msg("failed to roll back config field")
		}
		return result, fmt.Errorf("invalid value for %s: %s", key, result.Errors[0].Message)
	}

	if err := c.Save(); err != nil {
		return result, err
	}
	return result, nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if the config file was created by this process.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.firstRun
}
