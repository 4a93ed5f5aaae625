package config

import "github.com/lucasnoah/docfactory/internal/sources"

// Config is the top-level configuration parsed from docfactory.yaml.
type Config struct {
	Name       string `yaml:"name"`
	Language   string `yaml:"language"`
	SourceDir  string `yaml:"source_dir"`
	OutputDir  string `yaml:"output_dir"`
	ScoresDir  string `yaml:"scores_dir"`
	ReleaseDir string `yaml:"release_dir"`
	PromptsDir string `yaml:"prompts_dir"`
	TopicsFile string `yaml:"topics_file"`

	Sources    []sources.Source `yaml:"sources"`
	Processing Processing       `yaml:"processing"`
	LLM        LLM              `yaml:"llm"`
	Merge      MergeStage       `yaml:"merge"`
	Reduce     ReduceStage      `yaml:"reduce"`
	Assemble   AssembleStage    `yaml:"assemble"`
	Validation Validation       `yaml:"validation"`
	Checker    Checker          `yaml:"checker"`
	Ledger     Ledger           `yaml:"ledger"`
	Artifacts  Artifacts        `yaml:"artifacts"`
	Logging    Logging          `yaml:"logging"`
	Server     Server           `yaml:"server"`
}

// Processing controls the fetch and sanitize stage.
type Processing struct {
	SkipPatterns     []string `yaml:"skip_patterns"`
	ExcludeDirs      []string `yaml:"exclude_dirs"`
	MinContentLength int      `yaml:"min_content_length"`
	FetchWorkers     int      `yaml:"fetch_workers"`
}

// LLM configures the transform collaborator.
type LLM struct {
	Provider      string   `yaml:"provider"` // openrouter, gemini, identity
	Model         string   `yaml:"model"`
	BaseURL       string   `yaml:"base_url"`
	APIKeyEnv     string   `yaml:"api_key_env"`
	Temperature   float64  `yaml:"temperature"`
	MaxTokens     int      `yaml:"max_tokens"`
	Seed          *int     `yaml:"seed"`
	MaxRetries    int      `yaml:"max_retries"`
	RetryDelay    Duration `yaml:"retry_delay"`
	Timeout       Duration `yaml:"timeout"`
	StreamTimeout Duration `yaml:"stream_timeout"`
	CacheSize     int      `yaml:"cache_size"`
	CatalogTTL    Duration `yaml:"catalog_ttl"`
}

// StageLLM overrides LLM settings for one stage. Zero values inherit.
type StageLLM struct {
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// MergeStage configures topic merging.
type MergeStage struct {
	StageLLM       `yaml:",inline"`
	Workers        int `yaml:"workers"`
	ChunkThreshold int `yaml:"chunk_threshold"`
	MaxChunkSize   int `yaml:"max_chunk_size"`
	MinChars       int `yaml:"min_chars"`
	MaxChars       int `yaml:"max_chars"`
}

// ReduceStage configures hierarchical reduction.
type ReduceStage struct {
	StageLLM        `yaml:",inline"`
	Ratio           int     `yaml:"ratio"`
	MaxPasses       int     `yaml:"max_passes"`
	Workers         int     `yaml:"workers"`
	MinPatternRatio float64 `yaml:"min_pattern_ratio"`
}

// AssembleStage configures the final assembly.
type AssembleStage struct {
	StageLLM         `yaml:",inline"`
	Stream           *bool    `yaml:"stream"`
	Minify           *bool    `yaml:"minify"`
	MinChars         int      `yaml:"min_chars"`
	MaxChars         int      `yaml:"max_chars"`
	RequiredPatterns []string `yaml:"required_patterns"`
	Publish          bool     `yaml:"publish"`
}

// Thresholds are the validator gate thresholds for one stage.
type Thresholds struct {
	MinSizeRatio         float64 `yaml:"min_size_ratio"`
	RequiredPatternRatio float64 `yaml:"required_pattern_ratio"`
}

// Validation holds per-stage gate thresholds.
type Validation struct {
	Merge  Thresholds `yaml:"merge"`
	Reduce Thresholds `yaml:"reduce"`
}

// Checker configures the external syntax checker.
type Checker struct {
	Command       string   `yaml:"command"`
	Timeout       Duration `yaml:"timeout"`
	Workers       int      `yaml:"workers"`
	FailThreshold float64  `yaml:"fail_threshold"`
	MinPassRate   float64  `yaml:"min_pass_rate"`
	MaxErrors     int      `yaml:"max_errors"`
}

// Ledger configures the run ledger database. An empty DSN uses a local
// SQLite file; postgres:// DSNs use pgx.
type Ledger struct {
	DSN string `yaml:"dsn"`
}

// Artifacts configures the optional MinIO/S3 release publisher.
type Artifacts struct {
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	UseSSL       bool   `yaml:"use_ssl"`
}

// Enabled reports whether a publisher is configured.
func (a Artifacts) Enabled() bool { return a.Endpoint != "" && a.Bucket != "" }

// Logging configures the slog handler.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Server configures the dashboard server.
type Server struct {
	Addr string `yaml:"addr"`
}
