package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.ScanTimeout)
	assert.False(t, cfg.Mock)
	assert.False(t, cfg.Headless)
	assert.False(t, cfg.Dashboard.Enabled)
	assert.Equal(t, "127.0.0.1:8080", cfg.Dashboard.Listen)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB)
	assert.Equal(t, 3, cfg.Log.MaxBackups)
	assert.Equal(t, 28, cfg.Log.MaxAgeDays)
	assert.Equal(t, "braven-trainer.log", filepath.Base(cfg.Log.File))
	assert.True(t, cfg.Trainer.StartOnControl)
	assert.Equal(t, 10, cfg.Trainer.PowerStep)
	assert.True(t, cfg.Trainer.AutoConnect)
	assert.Equal(t, 220, cfg.Workout.FTP)
	assert.Equal(t, time.Second, cfg.Workout.Tick)
	assert.Empty(t, cfg.Workout.File)
}

func TestLoad_Flags(t *testing.T) {
	cfg, err := Load([]string{
		"--mock", "--headless", "--dashboard",
		"--listen", ":9090",
		"--scan-timeout", "30s",
		"--ftp", "265",
		"--workouts", "/tmp/w.yaml",
	})
	require.NoError(t, err)

	assert.True(t, cfg.Mock)
	assert.True(t, cfg.Headless)
	assert.True(t, cfg.Dashboard.Enabled)
	assert.Equal(t, ":9090", cfg.Dashboard.Listen)
	assert.Equal(t, 30*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 265, cfg.Workout.FTP)
	assert.Equal(t, "/tmp/w.yaml", cfg.Workout.File)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("BRAVEN_MOCK", "true")
	t.Setenv("BRAVEN_DASHBOARD_LISTEN", "0.0.0.0:8181")
	t.Setenv("BRAVEN_TRAINER_POWER_STEP", "25")
	t.Setenv("BRAVEN_WORKOUT_TICK", "500ms")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.True(t, cfg.Mock)
	assert.Equal(t, "0.0.0.0:8181", cfg.Dashboard.Listen)
	assert.Equal(t, 25, cfg.Trainer.PowerStep)
	assert.Equal(t, 500*time.Millisecond, cfg.Workout.Tick)
}

func TestLoad_FlagBeatsEnvironment(t *testing.T) {
	t.Setenv("BRAVEN_WORKOUT_FTP", "300")
	cfg, err := Load([]string{"--ftp", "250"})
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Workout.FTP)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "braven.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scan_timeout: 20s
dashboard:
  enabled: true
  listen: ":7000"
trainer:
  start_on_control: false
  power_step: 5
  auto_connect: false
log:
  max_backups: 7
workout:
  ftp: 240
`), 0o644))

	cfg, err := Load([]string{"--config", path, "--listen", ":7001"})
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, cfg.ScanTimeout)
	assert.True(t, cfg.Dashboard.Enabled)
	assert.Equal(t, ":7001", cfg.Dashboard.Listen)
	assert.False(t, cfg.Trainer.StartOnControl)
	assert.Equal(t, 5, cfg.Trainer.PowerStep)
	assert.False(t, cfg.Trainer.AutoConnect)
	assert.Equal(t, 7, cfg.Log.MaxBackups)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB)
	assert.Equal(t, 240, cfg.Workout.FTP)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load([]string{"--ftp", "0"})
	assert.ErrorContains(t, err, "workout.ftp")

	_, err = Load([]string{"--scan-timeout", "0s"})
	assert.ErrorContains(t, err, "scan_timeout")

	_, err = Load([]string{"--no-such-flag"})
	assert.Error(t, err)
}

func TestLoad_Help(t *testing.T) {
	_, err := Load([]string{"--help"})
	assert.True(t, errors.Is(err, ErrHelp))
}

func TestConfig_Validate(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	cfg.Dashboard.Enabled = true
	cfg.Dashboard.Listen = ""
	assert.Error(t, cfg.Validate())

	cfg.Dashboard.Listen = ":80"
	cfg.Trainer.PowerStep = -1
	assert.Error(t, cfg.Validate())
}
