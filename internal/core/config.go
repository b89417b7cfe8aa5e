package core

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Engine names accepted in Config.Engine.
const (
	EngineQuickJS = "quickjs"
	EngineGoja    = "goja"
	EngineV8      = "v8"
	EngineNone    = "none" // host runtimes only, no JS evaluation
)

// Config holds runtime configuration for a worklet module.
type Config struct {
	Engine        string `toml:"engine"`          // JS engine for both runtimes
	MemoryLimitMB int    `toml:"memory_limit_mb"` // per-engine memory limit, 0 = unlimited

	// MaxMapperIterations caps the fixed-point passes of one mapper tick.
	MaxMapperIterations int `toml:"max_mapper_iterations"`

	FrameIntervalMS int `toml:"frame_interval_ms"` // frame driver period

	Transpile       bool   `toml:"transpile"`        // run worklet code through esbuild
	TranspileTarget string `toml:"transpile_target"` // esbuild target, e.g. "es2017"

	LogLevel string `toml:"log_level"` // trace, debug, info, notice, warning, err
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Engine:              EngineQuickJS,
		MaxMapperIterations: 16,
		FrameIntervalMS:     16,
		TranspileTarget:     "es2017",
		LogLevel:            "warning",
	}
}

// FrameInterval returns FrameIntervalMS as a duration.
func (c Config) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMS) * time.Millisecond
}

// Validate checks field ranges and names.
func (c Config) Validate() error {
	switch c.Engine {
	case EngineQuickJS, EngineGoja, EngineV8, EngineNone:
	default:
		return fmt.Errorf("unknown engine %q", c.Engine)
	}
	if c.MemoryLimitMB < 0 {
		return fmt.Errorf("memory_limit_mb must not be negative, got %d", c.MemoryLimitMB)
	}
	if c.MaxMapperIterations < 1 {
		return fmt.Errorf("max_mapper_iterations must be at least 1, got %d", c.MaxMapperIterations)
	}
	if c.FrameIntervalMS < 1 {
		return fmt.Errorf("frame_interval_ms must be at least 1, got %d", c.FrameIntervalMS)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// LoadConfig reads a TOML file on top of DefaultConfig and validates it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read %s: %w", path, err)
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
