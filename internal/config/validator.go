package config

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the configuration for errors and risky settings.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateProxy(cfg, result)
	validateAmbient(cfg, result)

	return result
}

func validateProxy(cfg *Config, result *ValidationResult) {
	validatePort(cfg.Port, "port", result)

	if ip := net.ParseIP(cfg.Address); cfg.Address != "" && ip == nil {
		result.AddError("address", fmt.Sprintf("invalid listen address: %s", cfg.Address))
	}

	if strings.TrimSpace(cfg.Name) == "" {
		result.AddWarning("name", "server name is empty")
	}

	if cfg.MaxPlayers < 1 {
		result.AddError("maxplayers", "must allow at least 1 player")
	}

	if strings.TrimSpace(cfg.Connect.Address) == "" {
		result.AddError("connect.address", "upstream address is required")
	}
	if cfg.Connect.Port < 1 || cfg.Connect.Port > 65535 {
		result.AddError("connect.port", fmt.Sprintf("invalid port number: %d (must be 1-65535)", cfg.Connect.Port))
	}

	if cfg.Username != "" && InvalidNickname.MatchString(cfg.Username) {
		result.AddError("username", "username may only contain letters, digits and underscores")
	}
	if len(cfg.Username) > 16 {
		result.AddError("username", "username must be at most 16 characters")
	}
	if cfg.Password != "" {
		result.AddWarning("password", "online-mode login is not supported, password is ignored")
	}

	if cfg.BlocksFile != "" {
		if _, err := os.Stat(cfg.BlocksFile); os.IsNotExist(err) {
			result.AddError("blocks_file", fmt.Sprintf("file does not exist: %s", cfg.BlocksFile))
		}
	}
}

func validateAmbient(cfg *Config, result *ValidationResult) {
	if cfg.API.Enabled {
		validatePort(cfg.API.Port, "api.port", result)
		if cfg.API.Port == cfg.Port {
			result.AddError("api.port", "port conflict detected: api port equals proxy port")
		}
		if cfg.API.RateLimitRPS < 1 {
			result.AddWarning("api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
	}

	if cfg.Public {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddWarning("mqtt.broker_url", "public is set but no heartbeat broker is configured")
		} else if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	if cfg.Timers.HeartbeatInterval < 10 {
		result.AddWarning("timers.heartbeat_interval_sec",
			"heartbeat interval less than 10s may cause excessive traffic")
	}
	if cfg.Timers.LoginTimeout < 1 {
		result.AddError("timers.login_timeout_sec", "login timeout must be at least 1 second")
	}

	if cfg.Database.RetentionDays < 1 {
		result.AddWarning("database.retention_days", "session history is never pruned")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
