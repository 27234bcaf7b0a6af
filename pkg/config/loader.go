package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ZuluYAMLConfig represents the complete zulu.yaml file structure: the
// planner, executor, watchdog, and run-history store tunables, each
// optional and resolved on top of its owning package's own defaults.
type ZuluYAMLConfig struct {
	Planner  *PlannerYAMLConfig  `yaml:"planner"`
	Executor *ExecutorYAMLConfig `yaml:"executor"`
	Watchdog *WatchdogYAMLConfig `yaml:"watchdog"`
	Store    *StoreYAMLConfig    `yaml:"store"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load zulu.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Validate the loaded sections
//  5. Resolve each section against its owning package's defaults
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"executor_backend", cfg.ExecutorBackend,
		"store_log_path", cfg.StoreLogPath)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	zuluConfig, err := loader.loadZuluYAML()
	if err != nil {
		return nil, NewLoadError("zulu.yaml", err)
	}

	if err := NewValidator().ValidateAll(zuluConfig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	executorBackend := "subprocess"
	if zuluConfig.Executor != nil && zuluConfig.Executor.Backend != "" {
		executorBackend = zuluConfig.Executor.Backend
	}

	return &Config{
		configDir:       configDir,
		Planner:         zuluConfig.Planner.ToPlannerConfig(),
		PlannerModels:   zuluConfig.Planner.ToModelConfig(),
		Executor:        zuluConfig.Executor.ToExecutorConfig(),
		ExecutorBackend: executorBackend,
		Watchdog:        zuluConfig.Watchdog.ToWatchdogConfig(),
		StoreLogPath:    zuluConfig.Store.ResolveLogPath(),
		StoreMaxCached:  zuluConfig.Store.ResolveMaxCached(),
	}, nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	// Parse YAML
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadZuluYAML() (*ZuluYAMLConfig, error) {
	var cfg ZuluYAMLConfig
	if err := l.loadYAML("zulu.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
