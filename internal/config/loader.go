package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/docfactory/internal/sources"
)

// ErrNoConfig is returned by LoadDefault when no config file exists in the
// search path.
var ErrNoConfig = errors.New("no docfactory config found")

// Load reads and parses a configuration from the given YAML file path.
// Relative directories are resolved against the file's directory and
// defaults are applied to unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	abs, err := filepath.Abs(filepath.Dir(path))
	if err == nil {
		resolvePaths(&cfg, abs)
	}
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./docfactory.yaml, ~/.docfactory/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{"docfactory.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".docfactory", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("%w (searched: %v)", ErrNoConfig, candidates)
}

// Default returns a configuration with every default applied, rooted at
// the current directory.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// LoadEnv loads KEY=value pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// APIKey returns the transform provider key from the configured variable.
func (l LLM) APIKey() string {
	if l.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(l.APIKeyEnv)
}

// Credentials returns the publisher keys from the configured variables.
func (a Artifacts) Credentials() (access, secret string) {
	return os.Getenv(a.AccessKeyEnv), os.Getenv(a.SecretKeyEnv)
}

func applyDefaults(cfg *Config) {
	setString(&cfg.Name, "docfactory")
	setString(&cfg.Language, "Jac")
	setString(&cfg.SourceDir, "docs")
	setString(&cfg.OutputDir, "output")
	setString(&cfg.ScoresDir, "scores")
	setString(&cfg.ReleaseDir, "release")
	if len(cfg.Sources) == 0 {
		cfg.Sources = append([]sources.Source(nil), sources.DefaultSources...)
	}

	p := &cfg.Processing
	setInt(&p.MinContentLength, 200)
	setInt(&p.FetchWorkers, 4)

	l := &cfg.LLM
	setString(&l.Provider, "openrouter")
	setString(&l.Model, "anthropic/claude-sonnet-4")
	if l.APIKeyEnv == "" {
		switch l.Provider {
		case "gemini":
			l.APIKeyEnv = "GEMINI_API_KEY"
		default:
			l.APIKeyEnv = "OPENROUTER_API_KEY"
		}
	}
	setInt(&l.MaxTokens, 16000)
	setInt(&l.MaxRetries, 3)
	setDuration(&l.RetryDelay, 2*time.Second)
	setDuration(&l.Timeout, 120*time.Second)
	setDuration(&l.StreamTimeout, 300*time.Second)
	setInt(&l.CacheSize, 256)
	setDuration(&l.CatalogTTL, time.Hour)

	m := &cfg.Merge
	setInt(&m.Workers, 8)
	setInt(&m.ChunkThreshold, 20000)
	setInt(&m.MaxChunkSize, 15000)

	r := &cfg.Reduce
	setInt(&r.Ratio, 4)
	setInt(&r.MaxPasses, 2)
	setInt(&r.Workers, 8)
	setFloat(&r.MinPatternRatio, 0.7)

	setFloat(&cfg.Validation.Merge.MinSizeRatio, 0.15)
	setFloat(&cfg.Validation.Merge.RequiredPatternRatio, 0.6)
	setFloat(&cfg.Validation.Reduce.MinSizeRatio, 0.1)
	setFloat(&cfg.Validation.Reduce.RequiredPatternRatio, 0.7)

	c := &cfg.Checker
	setString(&c.Command, "jac check")
	setDuration(&c.Timeout, 5*time.Second)
	setInt(&c.Workers, 16)
	setFloat(&c.FailThreshold, 90)
	setFloat(&c.MinPassRate, 80)
	setInt(&c.MaxErrors, 10)

	setString(&cfg.Artifacts.AccessKeyEnv, "MINIO_ACCESS_KEY")
	setString(&cfg.Artifacts.SecretKeyEnv, "MINIO_SECRET_KEY")
	setString(&cfg.Logging.Level, "info")
	setString(&cfg.Logging.Format, "text")
	setString(&cfg.Server.Addr, "127.0.0.1:8420")
}

// resolvePaths makes relative directories absolute against base.
func resolvePaths(cfg *Config, base string) {
	for _, p := range []*string{&cfg.SourceDir, &cfg.OutputDir, &cfg.ScoresDir, &cfg.ReleaseDir, &cfg.PromptsDir, &cfg.TopicsFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	for i := range cfg.Sources {
		if d := cfg.Sources[i].Dir; d != "" && !filepath.IsAbs(d) {
			cfg.Sources[i].Dir = filepath.Join(base, d)
		}
	}
}

func setString(p *string, v string) {
	if *p == "" {
		*p = v
	}
}

func setInt(p *int, v int) {
	if *p == 0 {
		*p = v
	}
}

func setFloat(p *float64, v float64) {
	if *p == 0 {
		*p = v
	}
}

func setDuration(p *Duration, v time.Duration) {
	if *p == 0 {
		*p = Duration(v)
	}
}

// Bool returns *b, or def when b is nil.
func Bool(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
