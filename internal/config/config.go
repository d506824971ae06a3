package config

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"

	"github.com/Dicklesworthstone/hostdeets/internal/deets"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HOSTDEETS_"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config carries runtime options for hostdeets.
type Config struct {
	Interval      time.Duration `env:"INTERVAL"`
	TopEvery      uint64        `env:"TOP_EVERY"`
	Top           bool          `env:"TOP"`
	TopLimit      int           `env:"TOP_LIMIT"`
	Sort          string        `env:"SORT"`
	Filter        string        `env:"FILTER"`
	KernelThreads bool          `env:"KERNEL_THREADS"`
	Mounts        []string      `env:"MOUNTS"`
	Batteries     []string      `env:"BATTERIES"`
	Sensors       []string      `env:"SENSORS"`
	Deets         []string      `env:"DEETS"`
	JSON          bool          `env:"JSON"`
	JSONStream    bool          `env:"JSON_STREAM"`
	MetricsAddr   string        `env:"METRICS_ADDR"`
	LogLevel      string        `env:"LOG_LEVEL"`
	LogFormat     string        `env:"LOG_FORMAT"`
	LogFile       string        `env:"LOG_FILE"`
}

func Default() Config {
	return Config{
		Interval:  time.Second,
		TopEvery:  2,
		Top:       true,
		TopLimit:  20,
		Sort:      "cpu",
		Mounts:    []string{"/"},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// BindFlags registers every option on fs, writing into c.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&c.Interval, "interval", c.Interval, "refresh interval")
	fs.Uint64Var(&c.TopEvery, "top-every", c.TopEvery, "collect the process list every N frames")
	fs.BoolVar(&c.Top, "top", c.Top, "collect the process list")
	fs.IntVar(&c.TopLimit, "top-limit", c.TopLimit, "number of processes to show, 0 for all")
	fs.StringVar(&c.Sort, "sort", c.Sort, "sort column: cpu|mem")
	fs.StringVar(&c.Filter, "filter", c.Filter, "regex filter for process names")
	fs.BoolVar(&c.KernelThreads, "kernel-threads", c.KernelThreads, "include kernel worker threads in the process list")
	fs.StringSliceVar(&c.Mounts, "mount", c.Mounts, "mount points to report")
	fs.StringSliceVar(&c.Batteries, "battery", c.Batteries, "power supplies to report, e.g. BAT0")
	fs.StringSliceVar(&c.Sensors, "sensor", c.Sensors, "hardware sensor keys to report")
	fs.StringSliceVar(&c.Deets, "deet", c.Deets, "print these items once and exit, e.g. uptime,fs:/,net:eth0")
	fs.BoolVar(&c.JSON, "json", c.JSON, "output one-shot JSON and exit")
	fs.BoolVar(&c.JSONStream, "json-stream", c.JSONStream, "stream NDJSON until interrupted")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "serve Prometheus metrics on this address")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug|info|warn|error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "text|json")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "write logs here instead of stderr")
}

// LoadEnv applies HOSTDEETS_* overrides from the process environment.
// Variables that are unset leave the current value alone.
func (c *Config) LoadEnv() error {
	return env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix})
}

// LoadEnvFrom is LoadEnv over an explicit environment.
func (c *Config) LoadEnvFrom(environ map[string]string) error {
	return env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix, Environment: environ})
}

// Validate reports the first invalid option.
func (c Config) Validate() error {
	switch {
	case c.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalid, c.Interval)
	case c.TopEvery == 0:
		return fmt.Errorf("%w: top-every must be at least 1", ErrInvalid)
	case c.TopLimit < 0:
		return fmt.Errorf("%w: top-limit must not be negative", ErrInvalid)
	case c.Sort != "cpu" && c.Sort != "mem":
		return fmt.Errorf("%w: unknown sort key %q", ErrInvalid, c.Sort)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.LogFormat)
	case c.JSON && c.JSONStream:
		return fmt.Errorf("%w: json and json-stream are exclusive", ErrInvalid)
	}
	if _, err := c.FilterRegexp(); err != nil {
		return fmt.Errorf("%w: filter: %w", ErrInvalid, err)
	}
	if _, err := c.SlogLevel(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	for _, d := range c.Deets {
		if it := deets.ParseItem(d); !deets.Known(it.Func) {
			return fmt.Errorf("%w: unknown deet %q", ErrInvalid, it.Func)
		}
	}
	return nil
}

// FilterRegexp compiles Filter; an empty filter yields nil.
func (c Config) FilterRegexp() (*regexp.Regexp, error) {
	if c.Filter == "" {
		return nil, nil
	}
	return regexp.Compile(c.Filter)
}

func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, err
	}
	return lvl, nil
}
