// ABOUTME: YAML configuration loading for the gateway client
// ABOUTME: File values are overlaid on defaults, env vars win for secrets
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TokenEnvVar overrides the configured token when set.
const TokenEnvVar = "DISCORD_TOKEN"

type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	LogFile string        `yaml:"log_file"`
}

type GatewayConfig struct {
	Token    string `yaml:"token"`
	Endpoint string `yaml:"endpoint"`
	Intents  int    `yaml:"intents"`
}

func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Intents: 513,
		},
		LogFile: "discordgw.log",
	}
}

// Load reads the config file at path, if any, and applies environment
// overrides. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if token := os.Getenv(TokenEnvVar); token != "" {
		cfg.Gateway.Token = token
	}

	return cfg, nil
}
