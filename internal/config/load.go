package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding an explicit config
// file. The -config flag takes precedence over it.
const EnvConfigPath = "MIDGARD_TERRAIN_CONFIG"

// FileName is the config file looked up beside the height field, in the
// working directory and in ConfigDir.
const FileName = "terrain.yaml"

// Load loads configuration with priority: defaults < file < flags. A nil
// f loads defaults and the config file only.
//
// Relative paths inside a config file are taken relative to the file, so
// a terrain.yaml can sit beside the data it describes.
func Load(f *Flags) (*Config, error) {
	cfg := Default()

	path, err := resolveConfigPath(f)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
		cfg.rebase(filepath.Dir(path))
	}

	f.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveConfigPath picks the config file: -config, then the environment,
// then the first FileName found by findConfigFile. Explicit paths must
// exist; an empty result means defaults only.
func resolveConfigPath(f *Flags) (string, error) {
	if p := f.ConfigPath(); p != "" {
		return p, nil
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("%s: %w", EnvConfigPath, err)
		}
		return p, nil
	}
	return findConfigFile(f.DEMPath()), nil
}

// findConfigFile returns the first existing FileName beside dem, in the
// working directory or in ConfigDir.
func findConfigFile(dem string) string {
	var candidates []string
	if dem != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(dem), FileName))
	}
	candidates = append(candidates, FileName, filepath.Join(ConfigDir(), FileName))

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// rebase makes the relative file paths of c relative to dir.
func (c *Config) rebase(dir string) {
	for _, p := range []*string{&c.Terrain.DEMFile, &c.Triangulation.File, &c.Logging.LogFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// ConfigDir returns the per-user config directory, under the temporary
// directory when the user has none.
func ConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "midgard-terrain")
}

// loadFromFile decodes path over cfg; keys absent from the file keep their
// current values and unknown keys are rejected.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
