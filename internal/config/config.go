package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "BRAVEN"

type Config struct {
	ScanTimeout time.Duration `mapstructure:"scan_timeout"`
	Mock        bool          `mapstructure:"mock"`
	Headless    bool          `mapstructure:"headless"`

	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
	Trainer   TrainerConfig   `mapstructure:"trainer"`
	Workout   WorkoutConfig   `mapstructure:"workout"`
}

type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type TrainerConfig struct {
	StartOnControl bool `mapstructure:"start_on_control"`
	PowerStep      int  `mapstructure:"power_step"`
	AutoConnect    bool `mapstructure:"auto_connect"`
}

type WorkoutConfig struct {
	FTP  int           `mapstructure:"ftp"`
	File string        `mapstructure:"file"`
	Tick time.Duration `mapstructure:"tick"`
}

// ErrHelp is returned by Load when usage was requested.
var ErrHelp = pflag.ErrHelp

func setDefaults(v *viper.Viper) {
	v.SetDefault("scan_timeout", 15*time.Second)
	v.SetDefault("mock", false)
	v.SetDefault("headless", false)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.listen", "127.0.0.1:8080")
	v.SetDefault("log.file", defaultLogFile())
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("trainer.start_on_control", true)
	v.SetDefault("trainer.power_step", 10)
	v.SetDefault("trainer.auto_connect", true)
	v.SetDefault("workout.ftp", 220)
	v.SetDefault("workout.file", "")
	v.SetDefault("workout.tick", time.Second)
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.Duration("scan-timeout", 15*time.Second, "stop scanning after this long")
	fs.Bool("mock", false, "use simulated trainers instead of the Bluetooth adapter")
	fs.Bool("headless", false, "run without the terminal UI")
	fs.Bool("dashboard", false, "serve the HTTP/WebSocket dashboard")
	fs.String("listen", "127.0.0.1:8080", "dashboard listen address")
	fs.String("log-file", defaultLogFile(), "log file path")
	fs.Int("ftp", 220, "functional threshold power in watts")
	fs.String("workouts", "", "YAML file with additional workouts")
	return fs
}

// flagKeys maps flag names to their config keys.
var flagKeys = map[string]string{
	"scan-timeout": "scan_timeout",
	"mock":         "mock",
	"headless":     "headless",
	"dashboard":    "dashboard.enabled",
	"listen":       "dashboard.listen",
	"log-file":     "log.file",
	"ftp":          "workout.ftp",
	"workouts":     "workout.file",
}

// Load builds the configuration from defaults, an optional config file,
// BRAVEN_* environment variables and command line flags, in increasing
// order of precedence.
func Load(args []string) (*Config, error) {
	fs := newFlagSet("braven-trainer")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.ScanTimeout <= 0 {
		return errors.New("scan_timeout must be positive")
	}
	if c.Trainer.PowerStep <= 0 {
		return errors.New("trainer.power_step must be positive")
	}
	if c.Workout.FTP <= 0 {
		return errors.New("workout.ftp must be positive")
	}
	if c.Workout.Tick <= 0 {
		return errors.New("workout.tick must be positive")
	}
	if c.Dashboard.Enabled && c.Dashboard.Listen == "" {
		return errors.New("dashboard.listen is required when the dashboard is enabled")
	}
	return nil
}

// StateDir is where runtime state such as UI preferences is kept.
func StateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".braven"
	}
	return filepath.Join(home, ".braven")
}

func defaultLogFile() string {
	return filepath.Join(StateDir(), "braven-trainer.log")
}
