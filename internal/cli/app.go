package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/lucasnoah/docfactory/internal/artifact"
	"github.com/lucasnoah/docfactory/internal/checks"
	"github.com/lucasnoah/docfactory/internal/config"
	"github.com/lucasnoah/docfactory/internal/db"
	"github.com/lucasnoah/docfactory/internal/events"
	"github.com/lucasnoah/docfactory/internal/llm"
	"github.com/lucasnoah/docfactory/internal/logging"
	"github.com/lucasnoah/docfactory/internal/orchestrator"
	"github.com/lucasnoah/docfactory/internal/scoring"
	"github.com/lucasnoah/docfactory/internal/stage"
)

// loadConfig loads .env files and the config. Without --config and without a
// config file in the search path, the defaults are used.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(envFiles...); err != nil {
		return nil, err
	}
	if configFile != "" {
		return config.Load(configFile)
	}
	cfg, err := config.LoadDefault()
	if errors.Is(err, config.ErrNoConfig) {
		return config.Default(), nil
	}
	return cfg, err
}

// setup loads the config and configures logging from it.
func setup(w io.Writer) (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logging.Init(lvl, cfg.Logging.Format, w)
	return cfg, nil
}

func verifyOptions(cfg *config.Config) checks.VerifyOptions {
	c := cfg.Checker
	return checks.VerifyOptions{
		Command:   c.Command,
		Workers:   c.Workers,
		Timeout:   c.Timeout.Std(),
		MaxErrors: c.MaxErrors,
	}
}

func providerConfig(l config.LLM, o config.StageLLM) llm.ProviderConfig {
	pc := llm.ProviderConfig{
		Provider:      l.Provider,
		Model:         l.Model,
		BaseURL:       l.BaseURL,
		APIKey:        l.APIKey(),
		Temperature:   l.Temperature,
		MaxTokens:     l.MaxTokens,
		Seed:          l.Seed,
		Timeout:       l.Timeout.Std(),
		StreamTimeout: l.StreamTimeout.Std(),
		MaxRetries:    l.MaxRetries,
		RetryDelay:    l.RetryDelay.Std(),
		CacheSize:     l.CacheSize,
	}
	if o.Model != "" {
		pc.Model = o.Model
	}
	if o.Temperature != nil {
		pc.Temperature = *o.Temperature
	}
	if o.MaxTokens > 0 {
		pc.MaxTokens = o.MaxTokens
	}
	return pc
}

// newTransformers builds one provider per distinct stage setting; stages
// without overrides share the base provider and its cache.
func newTransformers(ctx context.Context, cfg *config.Config, log *slog.Logger) (stage.Transformers, error) {
	built := make(map[llm.ProviderConfig]llm.Transformer)
	get := func(name string, o config.StageLLM) (llm.Transformer, error) {
		pc := providerConfig(cfg.LLM, o)
		if t, ok := built[pc]; ok {
			return t, nil
		}
		t, err := llm.NewProvider(ctx, pc, log.With("stage", name))
		if err != nil {
			return nil, fmt.Errorf("%s transformer: %w", name, err)
		}
		built[pc] = t
		return t, nil
	}

	var (
		ts  stage.Transformers
		err error
	)
	if ts.Merge, err = get(stage.Merge, cfg.Merge.StageLLM); err != nil {
		return ts, err
	}
	if ts.Reduce, err = get(stage.Reduce, cfg.Reduce.StageLLM); err != nil {
		return ts, err
	}
	if ts.Assemble, err = get(stage.Assemble, cfg.Assemble.StageLLM); err != nil {
		return ts, err
	}
	return ts, nil
}

func openLedger(cfg *config.Config) (*db.DB, error) {
	d, err := db.Open(cfg.Ledger.DSN)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func newArtifactStore(cfg *config.Config) (artifact.Store, error) {
	if !cfg.Artifacts.Enabled() {
		return nil, nil
	}
	access, secret := cfg.Artifacts.Credentials()
	return artifact.NewS3Store(artifact.S3Config{
		Endpoint:  cfg.Artifacts.Endpoint,
		AccessKey: access,
		SecretKey: secret,
		Bucket:    cfg.Artifacts.Bucket,
		Prefix:    cfg.Artifacts.Prefix,
		UseSSL:    cfg.Artifacts.UseSSL,
	})
}

// app is a fully wired pipeline.
type app struct {
	cfg     *config.Config
	hub     *events.Hub
	ledger  *db.DB // nil when the ledger could not be opened
	engine  *stage.Engine
	runner  *orchestrator.Runner
	history *scoring.History
}

type appOptions struct {
	models   bool      // build the configured transformers; identity otherwise
	progress io.Writer // live stage progress; nil is silent
	logs     io.Writer
}

// newApp wires config, logging, the event hub, the run ledger, the stage
// engine and the runner. The cleanup func drains the hub before closing the
// ledger so that queued events are recorded.
func newApp(ctx context.Context, opts appOptions) (*app, func(), error) {
	cfg, err := setup(opts.logs)
	if err != nil {
		return nil, nil, err
	}
	log := logging.New("cli")

	a := &app{cfg: cfg, history: scoring.NewHistory(cfg.ScoresDir)}
	a.hub = events.NewHub(0, logging.New("events"))
	a.hub.Subscribe(events.LogHandler(logging.New("orchestrator")))

	if d, err := openLedger(cfg); err != nil {
		log.Warn("run ledger disabled", "error", err)
	} else {
		a.ledger = d
		a.hub.Subscribe(d.Handler(logging.New("ledger")))
	}
	cleanup := func() {
		a.hub.Close()
		if a.ledger != nil {
			a.ledger.Close()
		}
	}

	var ts stage.Transformers
	if opts.models {
		if ts, err = newTransformers(ctx, cfg, logging.New("llm")); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	store, err := newArtifactStore(cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("artifact store: %w", err)
	}

	verifier := checks.NewVerifier(&checks.ExecRunner{}, logging.New("checks"))
	a.engine = stage.NewEngine(stage.Deps{
		Config:       cfg,
		Transformers: ts,
		Verifier:     verifier,
		Scorer:       scoring.NewScorer(nil, verifier, verifyOptions(cfg)),
		History:      a.history,
		Artifacts:    store,
		Log:          logging.New("stage"),
	})
	if opts.progress != nil {
		a.engine.SetProgress(opts.progress)
	}
	a.runner = orchestrator.New(a.engine, a.engine.Store(), a.hub, logging.New("orchestrator"))
	return a, cleanup, nil
}
