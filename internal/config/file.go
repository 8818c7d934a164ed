package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Sentinel errors for server file loading.
var (
	// ErrServerFileEmptyPath is returned when the file path is empty.
	ErrServerFileEmptyPath = errors.New("server config file path cannot be empty")
)

type (
	// ServerFile is the optional YAML server configuration. It seeds products
	// on first start and tunes limits that rarely change at runtime.
	// Environment variables always win over file values.
	ServerFile struct {
		MaxRunCount       int           `yaml:"max_run_count,omitempty"`
		MaxStoreSizeBytes int64         `yaml:"max_store_size_bytes,omitempty"`
		WorkerCount       int           `yaml:"worker_count,omitempty"`
		Products          []ProductSeed `yaml:"products,omitempty"`
	}

	// ProductSeed declares a product to be registered at startup if missing.
	ProductSeed struct {
		Endpoint      string `yaml:"endpoint"`
		DisplayedName string `yaml:"displayed_name,omitempty"`
		Description   string `yaml:"description,omitempty"`
		DatabaseURL   string `yaml:"database_url"`
		RunLimit      int    `yaml:"run_limit,omitempty"`
	}
)

// LoadServerFile reads and parses the YAML server configuration file.
// A missing file is not an error; the caller receives a zero-value config.
func LoadServerFile(path string) (*ServerFile, error) {
	if path == "" {
		return nil, ErrServerFileEmptyPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ServerFile{}, nil
		}

		return nil, fmt.Errorf("failed to read server config file: %w", err)
	}

	var cfg ServerFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse server config file: %w", err)
	}

	return &cfg, nil
}
