package configs

import (
	"os"

	"github.com/hilthontt/roomsync/internal/infrastructure/env"
)

// DetermineConfigPath resolves the config file: the explicit flag value, then
// ROOMSYNC_CONFIG, then the usual locations. Empty means run on defaults.
func DetermineConfigPath(flagValue string) string {
	configPath := flagValue

	if configPath == "" {
		configPath = env.GetString("ROOMSYNC_CONFIG", "")
	}

	if configPath == "" {
		candidates := []string{
			"./config.yaml",
			"./config.yml",
			"../../config.yaml", // keep for local dev
			"/etc/roomsync/config.yaml",
		}

		for _, p := range candidates {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}

	return configPath
}
