package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/dsmacro/pkg/schema"
)

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// isolate points the search paths at empty temp dirs.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", home)
	xdg.Reload()
	return home
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 32.5, cfg.Mouse.PixelsPerDegree)
	assert.Equal(t, 60.0, cfg.Mouse.StepsPerSecond)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, "w", cfg.Keys["forward"])
	assert.Equal(t, "escape", cfg.Keys["esc"])
	assert.Equal(t, map[schema.MouseButton]int{
		schema.MouseLeft: 1, schema.MouseMiddle: 2, schema.MouseRight: 3,
	}, cfg.Buttons())
	assert.Empty(t, cfg.Source)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeSettings(t, `
log_level = "debug"
start_delay = "3s"
driver = "simulated"

[mouse]
pixels_per_degree = 20.0

[keys]
forward = "Up"

[mouse_buttons]
right = 4
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Source)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.StartDelay)
	assert.Equal(t, DriverSim, cfg.Driver)
	assert.Equal(t, 20.0, cfg.Mouse.PixelsPerDegree)
	assert.Equal(t, 60.0, cfg.Mouse.StepsPerSecond, "untouched keys keep defaults")
	assert.Equal(t, "Up", cfg.Keys["forward"])
	assert.Equal(t, "s", cfg.Keys["backward"])
	assert.Equal(t, 4, cfg.MouseButtons["right"])
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeSettings(t, "[mouse]\npixels_per_degree = 20.0\n")
	t.Setenv("DSMACRO_MOUSE_PIXELS_PER_DEGREE", "12.5")
	t.Setenv("DSMACRO_KEYS_SPRINT", "Shift_L")
	t.Setenv("DSMACRO_MOUSE_BUTTONS_MIDDLE", "9")
	t.Setenv("DSMACRO_POOL_SIZE", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12.5, cfg.Mouse.PixelsPerDegree)
	assert.Equal(t, "Shift_L", cfg.Keys["sprint"])
	assert.Equal(t, 9, cfg.MouseButtons["middle"])
	assert.Equal(t, 8, cfg.PoolSize)
}

func TestLoad_SearchPathFallback(t *testing.T) {
	home := isolate(t)
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".dsmacro"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".dsmacro", "settings.toml"), []byte(`log_format = "json"`), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, filepath.Join(home, ".dsmacro", "settings.toml"), cfg.Source)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Equal(t, schema.ErrCodeConfiguration, schema.CodeOf(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero pixels per degree", func(c *Config) { c.Mouse.PixelsPerDegree = 0 }},
		{"negative steps", func(c *Config) { c.Mouse.StepsPerSecond = -1 }},
		{"unknown driver", func(c *Config) { c.Driver = "uinput" }},
		{"unknown level", func(c *Config) { c.LogLevel = "loud" }},
		{"unknown format", func(c *Config) { c.LogFormat = "xml" }},
		{"missing button", func(c *Config) { delete(c.MouseButtons, "middle") }},
		{"unknown button", func(c *Config) { c.MouseButtons["thumb"] = 8 }},
		{"zero pool", func(c *Config) { c.PoolSize = 0 }},
		{"zero interval", func(c *Config) { c.Scheduler.Interval = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			require.NoError(t, cfg.Validate())
			tc.mutate(cfg)
			assert.Equal(t, schema.ErrCodeConfiguration, schema.CodeOf(cfg.Validate()))
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "mouse.pixels_per_degree", envKey("DSMACRO_MOUSE_PIXELS_PER_DEGREE"))
	assert.Equal(t, "mouse_buttons.left", envKey("DSMACRO_MOUSE_BUTTONS_LEFT"))
	assert.Equal(t, "scheduler.interval", envKey("DSMACRO_SCHEDULER_INTERVAL"))
	assert.Equal(t, "db_path", envKey("DSMACRO_DB_PATH"))
}

func validConfig() *Config {
	return &Config{
		LogLevel:     "info",
		LogFormat:    "text",
		PoolSize:     2,
		Driver:       DriverAuto,
		Mouse:        MouseConfig{PixelsPerDegree: 32.5, StepsPerSecond: 60},
		MouseButtons: map[string]int{"left": 1, "middle": 2, "right": 3},
		Scheduler:    SchedulerConfig{Interval: time.Minute},
	}
}
