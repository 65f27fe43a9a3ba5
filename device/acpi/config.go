package acpi

import (
	"fmt"
	"gopheros/device/acpi/aml/entity"
	"gopheros/device/acpi/aml/method"
	"gopheros/kernel"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"
)

var errInvalidConfig = &kernel.Error{Module: "acpi", Message: "invalid engine configuration"}

// Duration is a time.Duration that is encoded in TOML files as a string
// such as "250ms" or "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds the tunables of the engine.
type Config struct {
	// Workers is the number of goroutines running GPE methods.
	Workers int `toml:"workers"`

	// QueueDepth bounds the number of GPE methods waiting for a worker.
	QueueDepth int `toml:"queue_depth"`

	// MethodWait bounds the wait on a method's concurrency limit. Zero
	// waits indefinitely.
	MethodWait Duration `toml:"method_wait"`

	// ExecWait bounds the wait on the interpreter lock. Zero waits
	// indefinitely.
	ExecWait Duration `toml:"exec_wait"`

	// MaxCallDepth limits the nesting of method invocations.
	MaxCallDepth int `toml:"max_call_depth"`

	// LookupCacheSize is the number of absolute namespace paths cached.
	LookupCacheSize int `toml:"lookup_cache_size"`

	// MaxOwners limits the number of concurrently allocated owner ids.
	MaxOwners uint `toml:"max_owners"`

	// LogLevel is the minimum level of the engine log ("debug", "info",
	// "warn" or "error").
	LogLevel string `toml:"log_level"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() Config {
	return Config{
		Workers:         2,
		QueueDepth:      64,
		MaxCallDepth:    method.DefaultMaxCallDepth,
		LookupCacheSize: entity.DefaultLookupCacheSize,
		MaxOwners:       entity.MaxOwnerIDs,
		LogLevel:        "info",
	}
}

// LoadConfig reads a TOML configuration file. Keys missing from the file
// keep their default value.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes a TOML configuration document.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decoding engine config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", errInvalidConfig, undecoded[0].String())
	}

	return cfg, cfg.Validate()
}

// Validate checks that every field holds a usable value.
func (c Config) Validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", errInvalidConfig)
	case c.QueueDepth <= 0:
		return fmt.Errorf("%w: queue_depth must be positive", errInvalidConfig)
	case c.MethodWait.Duration < 0 || c.ExecWait.Duration < 0:
		return fmt.Errorf("%w: waits must not be negative", errInvalidConfig)
	case c.MaxCallDepth <= 0:
		return fmt.Errorf("%w: max_call_depth must be positive", errInvalidConfig)
	case c.LookupCacheSize <= 0:
		return fmt.Errorf("%w: lookup_cache_size must be positive", errInvalidConfig)
	case c.MaxOwners == 0 || c.MaxOwners > entity.MaxOwnerIDs:
		return fmt.Errorf("%w: max_owners must be in [1, %d]", errInvalidConfig, entity.MaxOwnerIDs)
	}

	if _, err := c.Level(); err != nil {
		return fmt.Errorf("%w: %v", errInvalidConfig, err)
	}
	return nil
}

// Level returns the parsed log level.
func (c Config) Level() (zapcore.Level, error) {
	var lvl zapcore.Level
	if c.LogLevel == "" {
		return zapcore.InfoLevel, nil
	}
	err := lvl.UnmarshalText([]byte(c.LogLevel))
	return lvl, err
}

func (c Config) methodConfig() method.Config {
	return method.Config{
		MethodWait:   c.MethodWait.Duration,
		ExecWait:     c.ExecWait.Duration,
		MaxCallDepth: c.MaxCallDepth,
	}
}
