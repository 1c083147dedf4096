// Package config loads mdxlate settings: DeepL credentials, the logical
// glossary name, glossary term tables and translation defaults.
//
// A config file is looked up in this order (first hit wins):
//
//  1. the --config flag
//  2. ./deepl.toml
//  3. ./mdxlate.yaml
//  4. ~/.deepl.toml
//  5. $XDG_CONFIG_HOME/mdxlate/config.yaml (default ~/.config/mdxlate)
//
// Files ending in .yaml or .yml are decoded as YAML, everything else as TOML.
//
// Lookup order for the API key:
//  1. --api-key flag (applied by the caller)
//  2. DEEPL_API_KEY, then MDXLATE_API_KEY environment variables
//     (a .env file in the working directory is loaded first)
//  3. api_key in the config file
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// FreeKeySuffix marks API keys of the DeepL free plan.
	FreeKeySuffix = ":fx"

	freeEndpoint = "https://api-free.deepl.com/v2"
	proEndpoint  = "https://api.deepl.com/v2"

	dirName = "mdxlate"
)

// ErrNotFound is returned when no config file is found in any search location.
var ErrNotFound = errors.New("config file not found")

// Config is the decoded config file.
type Config struct {
	// APIKey is the DeepL authentication key.
	APIKey string `toml:"api_key" yaml:"api_key"`
	// Endpoint overrides the API base URL derived from the key.
	Endpoint string `toml:"endpoint" yaml:"endpoint,omitempty"`
	// ProjectName is the logical glossary name used at translation time.
	ProjectName string `toml:"project_name" yaml:"project_name,omitempty"`
	// Glossaries maps a glossary name to source term -> target term pairs.
	Glossaries map[string]map[string]string `toml:"glossaries" yaml:"glossaries,omitempty"`
	// Ignores maps a project name to terms that are never translated.
	Ignores map[string][]string `toml:"ignores" yaml:"ignores,omitempty"`
	// Extensions lists the file extensions treated as Markdown (default .md).
	Extensions []string `toml:"extensions" yaml:"extensions,omitempty"`
	// MaxDepth limits directory recursion (default 0: top level only; -1: unlimited).
	MaxDepth *int `toml:"max_depth" yaml:"max_depth,omitempty"`
	// Concurrency is the number of files translated in parallel (default 1).
	Concurrency int `toml:"concurrency" yaml:"concurrency,omitempty"`
	// MaxRetries is the retry ceiling for rate-limited or failed requests (default 3).
	MaxRetries int `toml:"max_retries" yaml:"max_retries,omitempty"`
	// Formality is the default formality: default, formal or informal.
	Formality string `toml:"formality" yaml:"formality,omitempty"`

	// path is the file the config was read from ("" if built from env only).
	path string
}

// SearchPaths returns the default config file locations in lookup order.
func SearchPaths() []string {
	paths := []string{"deepl.toml", "mdxlate.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".deepl.toml"))
	}
	if dir, err := configDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "config.yaml"))
	}
	return paths
}

// configDir respects $XDG_CONFIG_HOME and falls back to ~/.config.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, dirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", dirName), nil
}

// Load reads the config file at path, or searches the default locations
// when path is empty. Environment overrides are applied afterwards. When
// no file exists but DEEPL_API_KEY is set, an env-only config is returned.
func Load(path string) (*Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load()

	var cfg *Config
	if path != "" {
		c, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		for _, p := range SearchPaths() {
			c, err := LoadFile(p)
			if err == nil {
				cfg = c
				break
			}
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	if cfg == nil {
		cfg = &Config{}
		cfg.applyEnv()
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w (searched %s)", ErrNotFound, strings.Join(SearchPaths(), ", "))
		}
		return cfg, nil
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFile decodes a single config file without applying env overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := &Config{path: path}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	for _, env := range []string{"DEEPL_API_KEY", "MDXLATE_API_KEY"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			c.APIKey = v
			return
		}
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Formality) {
	case "", "default", "formal", "informal", "more", "less", "prefer_more", "prefer_less":
	default:
		return fmt.Errorf("unknown formality %q (valid: default, formal, informal)", c.Formality)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	for i, ext := range c.Extensions {
		if ext == "" {
			return fmt.Errorf("extensions[%d] is empty", i)
		}
		if !strings.HasPrefix(ext, ".") {
			c.Extensions[i] = "." + ext
		}
	}
	return nil
}

// Path returns the file the config was loaded from, "" for env-only configs.
func (c *Config) Path() string {
	return c.path
}

// IsFreeKey reports whether the API key belongs to the free plan.
func (c *Config) IsFreeKey() bool {
	return strings.HasSuffix(c.APIKey, FreeKeySuffix)
}

// BaseURL returns the API base URL: the explicit endpoint if set, otherwise
// the free or pro endpoint chosen by the key suffix.
func (c *Config) BaseURL() string {
	if c.Endpoint != "" {
		return strings.TrimRight(c.Endpoint, "/")
	}
	if c.IsFreeKey() {
		return freeEndpoint
	}
	return proEndpoint
}

// EffectiveMaxDepth returns the configured depth, 0 if unset.
func (c *Config) EffectiveMaxDepth() int {
	if c.MaxDepth == nil {
		return 0
	}
	return *c.MaxDepth
}

// EffectiveExtensions returns the configured extensions, [.md] if unset.
func (c *Config) EffectiveExtensions() []string {
	if len(c.Extensions) == 0 {
		return []string{".md"}
	}
	return c.Extensions
}

// GlossaryTerms returns the term table registered under name.
func (c *Config) GlossaryTerms(name string) (map[string]string, bool) {
	terms, ok := c.Glossaries[name]
	return terms, ok
}

// IgnoreTerms returns the do-not-translate terms of the project.
func (c *Config) IgnoreTerms() []string {
	return c.Ignores[c.ProjectName]
}
