// Package config loads the command-line tool's settings from a YAML file and
// the environment. Library callers configure cow.Provider with options instead.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gadget-inc/clonefs/pkg/cow"
	"github.com/gadget-inc/clonefs/pkg/cowtree"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"
)

const (
	SerializeEnv         = "CLONEFS_SERIALIZE"
	LockDirEnv           = "CLONEFS_LOCK_DIR"
	CrossProcessLocksEnv = "CLONEFS_CROSS_PROCESS_LOCKS"
)

type Configuration struct {
	// Serialize is one of auto, none, volume or global.
	Serialize         string     `yaml:"serialize"`
	CrossProcessLocks bool       `yaml:"cross_process_locks"`
	LockDir           string     `yaml:"lock_dir"`
	QueryWorkers      int        `yaml:"query_workers"`
	Log               LogConfig  `yaml:"log"`
	Tree              TreeConfig `yaml:"tree"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

type TreeConfig struct {
	Workers int      `yaml:"workers"`
	Include []string `yaml:"include"`
	Verify  bool     `yaml:"verify"`
}

func NewDefault() *Configuration {
	return &Configuration{
		Serialize:    "auto",
		QueryWorkers: 8,
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load reads filename over the defaults, when given, then applies the
// environment and validates the result.
func Load(filename string) (*Configuration, error) {
	c := NewDefault()
	if filename != "" {
		if err := c.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	if err := c.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %v: %w", filename, err)
	}

	return nil
}

func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv(SerializeEnv); val != "" {
		c.Serialize = val
	}
	if val := os.Getenv(LockDirEnv); val != "" {
		c.LockDir = val
	}
	if val := os.Getenv(CrossProcessLocksEnv); val != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", CrossProcessLocksEnv, val, err)
		}
		c.CrossProcessLocks = enabled
	}
	return nil
}

func (c *Configuration) Validate() error {
	if _, err := cow.ParseSerializeScope(c.Serialize); err != nil {
		return err
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if c.Log.Encoding != "console" && c.Log.Encoding != "json" {
		return fmt.Errorf("invalid log encoding %q, expected console or json", c.Log.Encoding)
	}
	if c.QueryWorkers < 0 {
		return fmt.Errorf("query_workers must not be negative, got %d", c.QueryWorkers)
	}
	if c.Tree.Workers < 0 {
		return fmt.Errorf("tree.workers must not be negative, got %d", c.Tree.Workers)
	}
	return nil
}

func (c *Configuration) ProviderOptions() []cow.Option {
	scope, _ := cow.ParseSerializeScope(c.Serialize)

	opts := []cow.Option{cow.WithSerializeScope(scope)}
	if c.QueryWorkers > 0 {
		opts = append(opts, cow.WithQueryWorkers(c.QueryWorkers))
	}
	if c.CrossProcessLocks {
		opts = append(opts, cow.WithCrossProcessLocks(c.LockDir))
	}
	return opts
}

func (c *Configuration) TreeOptions() cowtree.Options {
	return cowtree.Options{
		Workers: c.Tree.Workers,
		Include: c.Tree.Include,
		Verify:  c.Tree.Verify,
	}
}
