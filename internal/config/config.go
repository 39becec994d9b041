package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type RemoteConfig struct {
	// OAuthClientID is the client_id sent on password-grant token requests.
	OAuthClientID string `mapstructure:"oauth_client_id"`
	// Timeout bounds every outbound call to a remote source.
	Timeout time.Duration `mapstructure:"timeout"`
}

type Config struct {
	DatabaseURL string       `mapstructure:"database_url"`
	ServerPort  string       `mapstructure:"server_port"`
	JWTSecret   string       `mapstructure:"jwt_secret"`
	Remote      RemoteConfig `mapstructure:"remote"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}

	if config.JWTSecret == "" {
		log.Fatal("JWT secret must be set in the config file")
	}

	if config.Remote.OAuthClientID == "" {
		config.Remote.OAuthClientID = "glowingbear-js"
	}
	if config.Remote.Timeout == 0 {
		config.Remote.Timeout = 30 * time.Second
	}

	return &config
}
