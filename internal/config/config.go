package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the coordinator. Values come from defaults,
// an optional YAML file, and SKYCOORD_* environment variables, in that order.
type Config struct {
	Port        int    `mapstructure:"port"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	MapHeight    int `mapstructure:"map_height"`
	MapWidth     int `mapstructure:"map_width"`
	MaxDrones    int `mapstructure:"max_drones"`
	MaxSurvivors int `mapstructure:"max_survivors"`

	StatusUpdateInterval time.Duration `mapstructure:"status_update_interval"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	MatcherInterval      time.Duration `mapstructure:"matcher_interval"`
	ReaperInterval       time.Duration `mapstructure:"reaper_interval"`
	DisconnectGrace      time.Duration `mapstructure:"disconnect_grace"`
	ShutdownDrain        time.Duration `mapstructure:"shutdown_drain"`
	StatsInterval        time.Duration `mapstructure:"stats_interval"`

	LogLevel     string `mapstructure:"log_level"`
	LogDir       string `mapstructure:"log_dir"`
	LogMaxSizeMB int    `mapstructure:"log_max_size_mb"`
}

func Default() *Config {
	return &Config{
		Port:                 8080,
		MetricsAddr:          ":9090",
		MapHeight:            40,
		MapWidth:             30,
		MaxDrones:            100,
		MaxSurvivors:         1000,
		StatusUpdateInterval: 5 * time.Second,
		HeartbeatInterval:    10 * time.Second,
		MatcherInterval:      1 * time.Second,
		ReaperInterval:       10 * time.Second,
		DisconnectGrace:      5 * time.Second,
		ShutdownDrain:        5 * time.Second,
		StatsInterval:        5 * time.Second,
		LogLevel:             "info",
		LogDir:               "",
		LogMaxSizeMB:         10,
	}
}

// Load reads configuration from path. An empty path means defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("port", def.Port)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("map_height", def.MapHeight)
	v.SetDefault("map_width", def.MapWidth)
	v.SetDefault("max_drones", def.MaxDrones)
	v.SetDefault("max_survivors", def.MaxSurvivors)
	v.SetDefault("status_update_interval", def.StatusUpdateInterval)
	v.SetDefault("heartbeat_interval", def.HeartbeatInterval)
	v.SetDefault("matcher_interval", def.MatcherInterval)
	v.SetDefault("reaper_interval", def.ReaperInterval)
	v.SetDefault("disconnect_grace", def.DisconnectGrace)
	v.SetDefault("shutdown_drain", def.ShutdownDrain)
	v.SetDefault("stats_interval", def.StatsInterval)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_dir", def.LogDir)
	v.SetDefault("log_max_size_mb", def.LogMaxSizeMB)

	v.SetEnvPrefix("SKYCOORD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if path != "" {
		dir := filepath.Dir(path)
		filename := filepath.Base(path)
		ext := filepath.Ext(filename)
		v.SetConfigName(strings.TrimSuffix(filename, ext))
		v.SetConfigType(strings.TrimPrefix(ext, "."))
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	// Port 0 binds an ephemeral port; useful for tests.
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MapHeight <= 0 || c.MapWidth <= 0 {
		return fmt.Errorf("invalid map dimensions %dx%d", c.MapHeight, c.MapWidth)
	}
	if c.MaxDrones <= 0 {
		return fmt.Errorf("max_drones must be positive")
	}
	if c.MaxSurvivors <= 0 {
		return fmt.Errorf("max_survivors must be positive")
	}
	for name, d := range map[string]time.Duration{
		"matcher_interval": c.MatcherInterval,
		"reaper_interval":  c.ReaperInterval,
		"disconnect_grace": c.DisconnectGrace,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
