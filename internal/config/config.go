// Package config loads dsmacro settings from defaults, an optional TOML
// file and DSMACRO_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/rendis/dsmacro/internal/engine"
	"github.com/rendis/dsmacro/internal/logging"
	"github.com/rendis/dsmacro/pkg/schema"
)

const (
	appName    = "dsmacro"
	envPrefix  = "DSMACRO_"
	fileName   = "settings.toml"
	legacyDir  = ".dsmacro"
	DriverAuto = "auto"
	DriverXdo  = "xdotool"
	DriverSim  = "simulated"
)

// Config is the resolved dsmacro configuration.
type Config struct {
	LogLevel    string            `koanf:"log_level"`
	LogFormat   string            `koanf:"log_format"`
	DBPath      string            `koanf:"db_path"`
	PoolSize    int               `koanf:"pool_size"`
	StartDelay  time.Duration     `koanf:"start_delay"`
	Driver      string            `koanf:"driver"`
	XdotoolPath string            `koanf:"xdotool_path"`
	Keys        map[string]string `koanf:"keys"`
	Mouse       MouseConfig       `koanf:"mouse"`
	// MouseButtons maps left/right/middle to X11 button numbers.
	MouseButtons map[string]int  `koanf:"mouse_buttons"`
	Scheduler    SchedulerConfig `koanf:"scheduler"`

	// Source is the settings file that was loaded, "" for none.
	Source string `koanf:"-"`
}

// MouseConfig tunes relative mouse movement.
type MouseConfig struct {
	PixelsPerDegree float64 `koanf:"pixels_per_degree"`
	StepsPerSecond  float64 `koanf:"steps_per_second"`
}

// SchedulerConfig tunes the cron poller.
type SchedulerConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// sections are the nested tables reachable from environment variables.
// Longer names first so mouse_buttons wins over mouse.
var sections = []string{"mouse_buttons", "mouse", "scheduler", "keys"}

// Defaults returns the built-in configuration as a flat koanf map.
func Defaults() map[string]any {
	m := map[string]any{
		"log_level":               "info",
		"log_format":              "text",
		"db_path":                 filepath.Join(xdg.DataHome, appName, appName+".db"),
		"pool_size":               engine.DefaultPoolSize,
		"start_delay":             "0s",
		"driver":                  DriverAuto,
		"xdotool_path":            "xdotool",
		"mouse.pixels_per_degree": engine.DefaultPixelsPerDegree,
		"mouse.steps_per_second":  engine.DefaultStepsPerSecond,
		"scheduler.interval":      "60s",
		"mouse_buttons.left":      1,
		"mouse_buttons.middle":    2,
		"mouse_buttons.right":     3,
	}
	for name, key := range engine.DefaultKeys() {
		m["keys."+name] = key
	}
	return m
}

// SearchPaths returns the settings files tried when none is given, in
// order: $XDG_CONFIG_HOME/dsmacro/settings.toml, then ~/.dsmacro/settings.toml.
func SearchPaths() []string {
	paths := []string{filepath.Join(xdg.ConfigHome, appName, fileName)}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, legacyDir, fileName))
	}
	return paths
}

// Load resolves the configuration. An explicit path must exist; with an
// empty path the first existing SearchPaths entry is used, if any.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "load defaults: %s", err.Error()).WithCause(err)
	}

	source, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if source != "" {
		if err := k.Load(file.Provider(source), toml.Parser()); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "load %s: %s", source, err.Error()).WithCause(err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "load environment: %s", err.Error()).WithCause(err)
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "decode configuration: %s", err.Error()).WithCause(err)
	}
	cfg.Source = source

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolvePath(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", schema.NewErrorf(schema.ErrCodeConfiguration, "settings file %s: %s", path, err.Error()).WithCause(err)
		}
		return path, nil
	}
	for _, p := range SearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// envKey maps DSMACRO_MOUSE_PIXELS_PER_DEGREE to mouse.pixels_per_degree.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, sec := range sections {
		if rest, ok := strings.CutPrefix(key, sec+"_"); ok {
			return sec + "." + rest
		}
	}
	return key
}

// Validate reports the first invalid setting as a CONFIGURATION_ERROR.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return confErr("log_format must be text or json, got %q", c.LogFormat)
	}
	switch c.Driver {
	case DriverAuto, DriverXdo, DriverSim:
	default:
		return confErr("driver must be one of auto, xdotool, simulated, got %q", c.Driver)
	}
	if c.Mouse.PixelsPerDegree <= 0 {
		return confErr("mouse.pixels_per_degree must be positive, got %v", c.Mouse.PixelsPerDegree)
	}
	if c.Mouse.StepsPerSecond <= 0 {
		return confErr("mouse.steps_per_second must be positive, got %v", c.Mouse.StepsPerSecond)
	}
	if c.PoolSize <= 0 {
		return confErr("pool_size must be positive, got %d", c.PoolSize)
	}
	if c.StartDelay < 0 {
		return confErr("start_delay must not be negative, got %s", c.StartDelay)
	}
	if c.Scheduler.Interval <= 0 {
		return confErr("scheduler.interval must be positive, got %s", c.Scheduler.Interval)
	}
	for _, b := range []schema.MouseButton{schema.MouseLeft, schema.MouseRight, schema.MouseMiddle} {
		id, ok := c.MouseButtons[string(b)]
		if !ok {
			return confErr("mouse_buttons.%s is not mapped", b)
		}
		if id <= 0 {
			return confErr("mouse_buttons.%s must be positive, got %d", b, id)
		}
	}
	for name := range c.MouseButtons {
		if !schema.MouseButton(name).Valid() {
			return confErr("mouse_buttons: unknown button %q", name)
		}
	}
	return nil
}

func confErr(format string, args ...any) error {
	return schema.NewError(schema.ErrCodeConfiguration, fmt.Sprintf(format, args...))
}

// Buttons returns the mouse button mapping keyed by button.
func (c *Config) Buttons() map[schema.MouseButton]int {
	out := make(map[schema.MouseButton]int, len(c.MouseButtons))
	for name, id := range c.MouseButtons {
		out[schema.MouseButton(name)] = id
	}
	return out
}
