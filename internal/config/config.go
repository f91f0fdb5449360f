package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	Secret      string        `mapstructure:"secret"`
	UserID      int64         `mapstructure:"user_id"`
	SignalURL   string        `mapstructure:"signal_url"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	RingTimeout time.Duration `mapstructure:"ring_timeout"`
	ICEServers  []string      `mapstructure:"ice_servers"`
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

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("signal_url", "wss://worldmates.club/ws/calls")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("ring_timeout", "45s")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.RingTimeout = clampRingTimeout(cfg.RingTimeout)

	fmt.Printf("🧩 Mode: %s | Port: %d | Signal: %s\n", cfg.Mode, cfg.Port, cfg.SignalURL)
	return &cfg, nil
}

// Ringing must expire between 30 and 60 seconds.
func clampRingTimeout(d time.Duration) time.Duration {
	if d < 30*time.Second {
		return 30 * time.Second
	}
	if d > 60*time.Second {
		return 60 * time.Second
	}
	return d
}
