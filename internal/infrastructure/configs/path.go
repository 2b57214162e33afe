package configs

import (
	"flag"
	"os"

	"github.com/hilthontt/readalong/internal/infrastructure/env"
)

// DetermineConfigPath resolves the config file from --config, then
// READALONG_CONFIG, then a list of well-known locations. An empty result
// means defaults and environment variables only.
func DetermineConfigPath() string {
	var configPath string

	if flag.Lookup("config") == nil {
		flag.String("config", "", "path to config file")
	}
	if !flag.Parsed() {
		flag.Parse()
	}
	configPath = flag.Lookup("config").Value.String()

	if configPath == "" {
		configPath = env.GetString("READALONG_CONFIG", "")
	}

	if configPath == "" {
		candidates := []string{
			"./config.yaml",
			"./config.yml",
			"../../config.yaml", // keep for local dev
			"/etc/readalong/config.yaml",
			"/app/config.yaml", // common in Docker
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
