// Package config loads the process configuration from environment
// variables and an optional config file, as described in spec.md §6.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every knob listed in spec.md §6. The mapstructure tags
// carry the config keys, which viper's automatic env binding looks up
// upper-cased, so no per-field aliasing is needed beyond the key
// replacer set up in Load.
type Config struct {
	Pairs                   []string      `mapstructure:"pairs"`
	ListenAddr              string        `mapstructure:"listen_addr"`
	UpstreamURL             string        `mapstructure:"upstream_url"`
	SnapshotIntervalSecs    int           `mapstructure:"snapshot_interval_secs"`
	RetentionWindowSecs     int           `mapstructure:"retention_window_secs"`
	BroadcastCapacity       int           `mapstructure:"broadcast_capacity"`
	HeartbeatTimeoutSecs    int           `mapstructure:"heartbeat_timeout"`
	SubscribeTimeoutSecs    int           `mapstructure:"subscribe_timeout"`
	InitialSnapshotTimeout  int           `mapstructure:"initial_snapshot_timeout"`
	RequestTimeoutSecs      int           `mapstructure:"request_timeout"`
	DrainGraceSecs          int           `mapstructure:"drain_grace_secs"`
}

// SnapshotInterval etc. expose the duration-typed view of the raw int
// fields; handlers and timers should use these rather than re-deriving
// time.Duration at every call site.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalSecs) * time.Second
}

func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.RetentionWindowSecs) * time.Second
}

func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSecs) * time.Second
}

func (c *Config) SubscribeTimeout() time.Duration {
	return time.Duration(c.SubscribeTimeoutSecs) * time.Second
}

func (c *Config) InitialSnapshotTimeoutDuration() time.Duration {
	return time.Duration(c.InitialSnapshotTimeout) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

func (c *Config) DrainGrace() time.Duration {
	return time.Duration(c.DrainGraceSecs) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pairs", []string{"ZEC", "BTC", "ETH", "XMR"})
	v.SetDefault("listen_addr", "0.0.0.0:8080")
	v.SetDefault("upstream_url", "wss://ws.exchange.example/v2")
	v.SetDefault("snapshot_interval_secs", 5)
	v.SetDefault("retention_window_secs", 3600)
	v.SetDefault("broadcast_capacity", 256)
	v.SetDefault("heartbeat_timeout", 30)
	v.SetDefault("subscribe_timeout", 10)
	v.SetDefault("initial_snapshot_timeout", 15)
	v.SetDefault("request_timeout", 10)
	v.SetDefault("drain_grace_secs", 5)
}

// Load reads configuration from an optional file at configPath (if
// non-empty and present) and overlays process environment variables on
// top, matching spec.md §6's "process environment or a config file"
// wording — env always wins on conflict.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// viper's automatic env binding only sees keys that were already
	// registered via SetDefault/config file, but "pairs" arrives as a
	// comma-separated string over the environment rather than a YAML
	// list, so it needs an explicit split.
	if raw := v.GetString("pairs"); raw != "" && looksLikeCSV(v) {
		cfg.Pairs = splitCSV(raw)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// looksLikeCSV reports whether the "pairs" key was supplied as a flat
// string (env var or a scalar in the config file) rather than already
// decoded into a list by Unmarshal.
func looksLikeCSV(v *viper.Viper) bool {
	_, isStringSlice := v.Get("pairs").([]string)
	return !isStringSlice
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations that would make the rest of the
// system misbehave rather than fail fast.
func (c *Config) Validate() error {
	if len(c.Pairs) == 0 {
		return fmt.Errorf("config: pairs must not be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must not be empty")
	}
	if c.UpstreamURL == "" {
		return fmt.Errorf("config: upstream_url must not be empty")
	}
	if c.SnapshotIntervalSecs <= 0 {
		return fmt.Errorf("config: snapshot_interval_secs must be positive")
	}
	if c.RetentionWindowSecs <= 0 {
		return fmt.Errorf("config: retention_window_secs must be positive")
	}
	if c.RetentionWindowSecs < c.SnapshotIntervalSecs {
		return fmt.Errorf("config: retention_window_secs must be >= snapshot_interval_secs")
	}
	if c.BroadcastCapacity <= 0 {
		return fmt.Errorf("config: broadcast_capacity must be positive")
	}
	return nil
}
