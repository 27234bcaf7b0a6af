package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator validates the YAML-sourced planner/executor/watchdog/store
// configuration sections using struct-tag validation, the same
// github.com/go-playground/validator/v10 convention pkg/policy's engine
// uses for its own loaded documents.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a validator backed by a fresh validator.Validate instance.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// ValidateAll runs struct-tag validation across every section present in
// the loaded YAML document. A nil section is never itself invalid —
// To*Config() resolves it to the owning package's defaults instead.
func (v *Validator) ValidateAll(cfg *ZuluYAMLConfig) error {
	if cfg.Planner != nil {
		if err := v.validate.Struct(cfg.Planner); err != nil {
			return fmt.Errorf("planner section: %w", err)
		}
	}
	if cfg.Executor != nil {
		if err := v.validate.Struct(cfg.Executor); err != nil {
			return fmt.Errorf("executor section: %w", err)
		}
	}
	if cfg.Watchdog != nil {
		if err := v.validate.Struct(cfg.Watchdog); err != nil {
			return fmt.Errorf("watchdog section: %w", err)
		}
	}
	if cfg.Store != nil {
		if err := v.validate.Struct(cfg.Store); err != nil {
			return fmt.Errorf("store section: %w", err)
		}
	}
	return nil
}
