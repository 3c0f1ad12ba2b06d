package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Relay holds the relay server settings.
type Relay struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
}

// Client holds the watch-party client settings. ICEServers may be empty,
// meaning host/LAN-only connectivity; no TURN relay is assumed.
type Client struct {
	RelayURL   string   `mapstructure:"relay_url"`
	Room       string   `mapstructure:"room"`
	Username   string   `mapstructure:"username"`
	ICEServers []string `mapstructure:"ice_servers"`

	DriftThreshold time.Duration `mapstructure:"drift_threshold"`
	SeekThreshold  time.Duration `mapstructure:"seek_threshold"`
	GuardWindow    time.Duration `mapstructure:"guard_window"`
	SoloTimeout    time.Duration `mapstructure:"solo_timeout"`
}

type Config struct {
	Relay  Relay  `mapstructure:"relay"`
	Client Client `mapstructure:"client"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("relay.mode", "release")
	v.SetDefault("relay.port", 8080)
	v.SetDefault("relay.read_limit", 32768)
	v.SetDefault("relay.ping_period", "54s")
	v.SetDefault("relay.secret", "watch-dev-secret")

	v.SetDefault("client.relay_url", "ws://localhost:8080/api/ws/player")
	v.SetDefault("client.room", "lobby")
	v.SetDefault("client.username", "guest")
	v.SetDefault("client.ice_servers", []string{})
	v.SetDefault("client.drift_threshold", "500ms")
	v.SetDefault("client.seek_threshold", "1s")
	v.SetDefault("client.guard_window", "500ms")
	v.SetDefault("client.solo_timeout", "1500ms")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
