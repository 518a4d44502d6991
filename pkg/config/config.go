// Package config loads YAML configuration with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Load when the file does not exist.
var ErrNotFound = errors.New("config file not found")

// Validator is implemented by configurations that can check themselves.
type Validator interface {
	Validate() error
}

// Parse expands ${VAR} references in data, decodes it over target and
// validates the result. Fields absent from data keep the values target
// already holds, so callers pass a pre-filled default.
func Parse[T any](data []byte, target *T) error {
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), target); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if v, ok := any(target).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}
	return nil
}

// Load reads filename and parses it with Parse.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := Parse(data, target); err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	return nil
}

// LoadOptional is Load, except that a missing file only validates the
// defaults already held by target.
func LoadOptional[T any](filename string, target *T) (found bool, err error) {
	err = Load(filename, target)
	if !errors.Is(err, ErrNotFound) {
		return err == nil, err
	}
	if v, ok := any(target).(Validator); ok {
		if err := v.Validate(); err != nil {
			return false, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return false, nil
}
