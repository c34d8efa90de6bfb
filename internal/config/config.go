// Package config loads fridactl configuration through viper.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/frida-go/errors"
	"github.com/wippyai/frida-go/native"
	"github.com/wippyai/frida-go/native/local"
)

// Config is the complete fridactl configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Engine  EngineConfig  `mapstructure:"engine"`
}

// LogConfig controls the logger.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format is "console" or "json".
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

// EngineConfig describes the local engine's inventory.
type EngineConfig struct {
	// FailInit makes engine initialization fail with this message.
	FailInit string         `mapstructure:"fail_init"`
	Devices  []DeviceConfig `mapstructure:"devices"`
}

// DeviceConfig describes one device.
type DeviceConfig struct {
	ID          string            `mapstructure:"id"`
	Name        string            `mapstructure:"name"`
	Processes   []ProcessConfig   `mapstructure:"processes"`
	Executables []string          `mapstructure:"executables"`
	Type        native.DeviceType `mapstructure:"type"`
	Icon        bool              `mapstructure:"icon"`
}

// ProcessConfig describes a running process.
type ProcessConfig struct {
	Name string `mapstructure:"name"`
	PID  uint32 `mapstructure:"pid"`
}

const iconSize = 16

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	base := local.DefaultConfig()
	devices := make([]DeviceConfig, len(base.Devices))
	for i, d := range base.Devices {
		procs := make([]ProcessConfig, len(d.Processes))
		for j, p := range d.Processes {
			procs[j] = ProcessConfig{PID: p.PID, Name: p.Name}
		}
		devices[i] = DeviceConfig{
			ID:          d.ID,
			Name:        d.Name,
			Type:        d.Type,
			Icon:        d.Icon != nil,
			Processes:   procs,
			Executables: append([]string(nil), d.Executables...),
		}
	}

	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Engine: EngineConfig{
			Devices: devices,
		},
	}
}

// SetDefaults registers defaults on v.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("metrics.addr", defaults.Metrics.Addr)
	v.SetDefault("engine.fail_init", defaults.Engine.FailInit)
	v.SetDefault("engine.devices", deviceMaps(defaults.Engine.Devices))
}

// deviceMaps renders devices in the shape a configuration file decodes to.
func deviceMaps(devices []DeviceConfig) []any {
	out := make([]any, len(devices))
	for i, d := range devices {
		procs := make([]any, len(d.Processes))
		for j, p := range d.Processes {
			procs[j] = map[string]any{"pid": p.PID, "name": p.Name}
		}
		out[i] = map[string]any{
			"id":          d.ID,
			"name":        d.Name,
			"type":        DeviceTypeName(d.Type),
			"icon":        d.Icon,
			"processes":   procs,
			"executables": d.Executables,
		}
	}
	return out
}

// DeviceTypeName returns the configuration name of t.
func DeviceTypeName(t native.DeviceType) string {
	switch t {
	case native.DeviceTypeTether:
		return "tether"
	case native.DeviceTypeRemote:
		return "remote"
	}
	return "local"
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		deviceTypeHook,
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var deviceTypeType = reflect.TypeOf(native.DeviceType(0))

// deviceTypeHook decodes "local", "tether" and "remote" into native.DeviceType.
func deviceTypeHook(from, to reflect.Type, data any) (any, error) {
	if to != deviceTypeType || from.Kind() != reflect.String {
		return data, nil
	}
	return ParseDeviceType(data.(string))
}

// ParseDeviceType parses a device type name, ignoring case.
func ParseDeviceType(s string) (native.DeviceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return native.DeviceTypeLocal, nil
	case "tether", "usb":
		return native.DeviceTypeTether, nil
	case "remote":
		return native.DeviceTypeRemote, nil
	}
	return 0, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown device type %q", s))
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("log.format must be console or json, got %q", c.Log.Format))
	}

	ids := make(map[string]struct{}, len(c.Engine.Devices))
	for i, d := range c.Engine.Devices {
		if d.Name == "" {
			return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("engine.devices[%d]: name is required", i))
		}
		if d.ID != "" {
			if _, dup := ids[d.ID]; dup {
				return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("engine.devices[%d]: duplicate id %q", i, d.ID))
			}
			ids[d.ID] = struct{}{}
		}
		pids := make(map[uint32]struct{}, len(d.Processes))
		for _, p := range d.Processes {
			if p.PID == 0 {
				return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("engine.devices[%d]: pid 0 is reserved", i))
			}
			if _, dup := pids[p.PID]; dup {
				return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("engine.devices[%d]: duplicate pid %d", i, p.PID))
			}
			pids[p.PID] = struct{}{}
		}
	}
	return nil
}

// LocalConfig maps the engine section onto a local engine configuration.
// Devices without an id get a generated one from the engine.
func (c *Config) LocalConfig() local.Config {
	out := local.Config{
		Devices: make([]local.DeviceConfig, len(c.Engine.Devices)),
	}
	if c.Engine.FailInit != "" {
		out.FailInit = errors.New(errors.PhaseInit, errors.KindRuntimeInit).Detail("%s", c.Engine.FailInit).Build()
	}
	for i, d := range c.Engine.Devices {
		procs := make([]local.ProcessConfig, len(d.Processes))
		for j, p := range d.Processes {
			procs[j] = local.ProcessConfig{PID: p.PID, Name: p.Name}
		}
		dc := local.DeviceConfig{
			ID:          d.ID,
			Name:        d.Name,
			Type:        d.Type,
			Processes:   procs,
			Executables: append([]string(nil), d.Executables...),
		}
		if d.Icon {
			dc.Icon = local.CheckerIcon(iconSize)
		}
		out.Devices[i] = dc
	}
	return out
}
