package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

var (
	envFilePath string
	parseOnce   sync.Once
)

// Option adjusts how a config struct is loaded.
type Option func(*loadOptions)

type loadOptions struct {
	envFile string
}

// WithEnvFile forces a specific env file instead of the -env flag / ./.env probe.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) {
		o.envFile = strings.TrimSpace(path)
	}
}

func MustNew[T any](prefix string, opts ...Option) *T {
	conf, err := New[T](prefix, opts...)
	if err != nil {
		panic(err)
	}
	return conf
}

// New loads T from the environment under prefix. An env file, when present,
// is exported into the process environment first so envconfig sees it.
func New[T any](prefix string, opts ...Option) (*T, error) {
	var lo loadOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&lo)
		}
	}

	switch {
	case lo.envFile != "":
		if err := exportEnvironment(lo.envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	case resolveEnvPath() != "":
		if err := exportEnvironment(resolveEnvPath()); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	default:
		if err := exportEnvironmentIfExists(".env"); err != nil {
			return nil, fmt.Errorf("failed to load default env file: %w", err)
		}
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, err
	}

	return &conf, nil
}

func resolveEnvPath() string {
	parseOnce.Do(func() {
		if flag.Lookup("env") == nil {
			flag.StringVar(&envFilePath, "env", "", "path to .env file")
		}
		if !flag.Parsed() {
			flag.Parse()
		}
	})
	return strings.TrimSpace(envFilePath)
}

func exportEnvironmentIfExists(filepath string) error {
	info, err := os.Stat(filepath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	return exportEnvironment(filepath)
}

func exportEnvironment(filepath string) error {
	viper.SetConfigFile(filepath)
	if err := viper.ReadInConfig(); err != nil {
		return err
	}

	for k, v := range viper.AllSettings() {
		if err := os.Setenv(strings.ToUpper(k), fmt.Sprint(v)); err != nil {
			return err
		}
	}

	return nil
}
