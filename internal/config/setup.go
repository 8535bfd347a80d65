package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard walks the operator through the settings a fresh install
// needs before sessions can reach an upstream server.
func RunSetupWizard(cfg *Config, in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║      VoxelCraft Proxy - First Run Setup      ║")
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Println("── Proxy Identity ──")

	cfg.Name = promptString(reader, "Server name", cfg.Name)
	cfg.Motd = promptString(reader, "MOTD", cfg.Motd)
	cfg.MaxPlayers = promptInt(reader, "Max players", cfg.MaxPlayers)

	fmt.Println()
	fmt.Println("── Listener ──")

	cfg.Address = promptString(reader, "Listen address", cfg.Address)
	cfg.Port = promptInt(reader, "Listen port", cfg.Port)

	fmt.Println()
	fmt.Println("── Upstream Server ──")

	cfg.Connect.Address = promptString(reader, "Upstream address", cfg.Connect.Address)
	cfg.Connect.Port = promptInt(reader, "Upstream port", cfg.Connect.Port)
	cfg.Username = promptString(reader, "Upstream username (blank uses the player's name)", cfg.Username)

	fmt.Println()
	fmt.Println("── Heartbeat ──")

	cfg.Public = promptBool(reader, "List this proxy publicly", cfg.Public)
	if cfg.Public {
		cfg.MQTT.BrokerURL = promptString(reader, "Heartbeat broker host", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = promptInt(reader, "Heartbeat broker port", cfg.MQTT.Port)
	}

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Println("\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Printf("  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, "Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) == "yes" {
			return RunSetupWizard(cfg, reader)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Println()
	fmt.Println("✓ Configuration saved to", cfg.Path())
	fmt.Println()

	return nil
}

func promptString(reader *bufio.Reader, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Printf("  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, prompt string, defaultVal int) int {
	fmt.Printf("  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Printf("    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Printf("  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
