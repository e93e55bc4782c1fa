// Package setup handles kbreplay base directory initialization.
package setup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hkondo/kbreplay/internal/model"
	atomicyaml "github.com/hkondo/kbreplay/internal/yaml"
	yamlv3 "gopkg.in/yaml.v3"
)

const baseDirName = ".kbreplay"

// DefaultBaseDir resolves ~/.kbreplay.
func DefaultBaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, baseDirName), nil
}

// Run initializes the base directory structure and writes the default
// config.yaml. It refuses to overwrite an existing installation.
func Run(baseDir string) error {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("resolve base dir: %w", err)
	}

	if _, err := os.Stat(abs); err == nil {
		return fmt.Errorf("%s already exists", abs)
	}

	dirs := []string{
		"recordings",
		"skills",
		"logs",
		"locks",
	}
	if err := os.MkdirAll(abs, 0700); err != nil {
		return fmt.Errorf("create base dir: %w", err)
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(abs, d), 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfg := model.DefaultConfig()
	cfg.Journal.Path = filepath.Join(abs, "logs", "events.jsonl")

	content, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := atomicyaml.AtomicWriteRaw(filepath.Join(abs, "config.yaml"), content); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}
