package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ziadkadry99/fingraph/internal/answer"
	"github.com/ziadkadry99/fingraph/internal/config"
	"github.com/ziadkadry99/fingraph/internal/conversation"
	"github.com/ziadkadry99/fingraph/internal/db"
	"github.com/ziadkadry99/fingraph/internal/entity"
	"github.com/ziadkadry99/fingraph/internal/graphstore"
	"github.com/ziadkadry99/fingraph/internal/intent"
	"github.com/ziadkadry99/fingraph/internal/llm"
	"github.com/ziadkadry99/fingraph/internal/logging"
	"github.com/ziadkadry99/fingraph/internal/pipeline"
	"github.com/ziadkadry99/fingraph/internal/query"
	"github.com/ziadkadry99/fingraph/internal/schema"
	"github.com/ziadkadry99/fingraph/internal/telemetry"
	"github.com/ziadkadry99/fingraph/internal/transcript"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `fingraph init` to create a config file", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSchema returns the configured schema, or the embedded default.
func loadSchema(cfg *config.Config) (*schema.Descriptor, error) {
	if cfg.SchemaFile == "" {
		return schema.Default()
	}
	d, err := schema.Load(cfg.SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}
	return d, nil
}

// app is everything a command needs to answer questions.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	schema      *schema.Descriptor
	usage       *llm.UsageTracker
	graph       *graphstore.Neo4jExecutor
	executor    graphstore.Executor
	database    *db.DB
	transcripts *transcript.Store
	pipeline    *pipeline.Pipeline
	stopTracing func(context.Context) error
}

// buildApp wires the pipeline from configuration. Logs always go to
// stderr so stdout stays free for answers and the MCP protocol.
func buildApp(withTranscripts bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if a.stopTracing, err = telemetry.SetupTracing(cfg.Tracing.Exporter, os.Stderr); err != nil {
		return nil, err
	}

	if a.schema, err = loadSchema(cfg); err != nil {
		a.Close()
		return nil, err
	}

	provider, err := llm.Build(string(cfg.Provider), cfg.Model, cfg.LLM.RPM)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	a.usage = llm.NewUsageTracker(provider)

	a.graph, err = graphstore.NewNeo4jExecutor(graphstore.Neo4jOptions{
		URI:                   cfg.Graph.URI,
		Username:              cfg.Graph.Username,
		Password:              cfg.Graph.Password,
		Database:              cfg.Graph.Database,
		MaxPoolSize:           cfg.Graph.MaxPoolSize,
		AcquisitionTimeout:    cfg.Graph.AcquisitionTimeout,
		QueryTimeout:          cfg.Graph.QueryTimeout,
		MaxConnectionLifetime: cfg.Graph.MaxConnectionLifetime,
		Logger:                logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connecting to graph store: %w", err)
	}
	a.executor = graphstore.NewBoundedExecutor(a.graph, cfg.Graph.MaxPoolSize, cfg.Graph.AcquisitionTimeout)

	gen, err := query.NewGenerator(a.usage, a.schema, query.Options{
		CallTimeout: cfg.LLM.GenerateTimeout,
		MaxTokens:   cfg.LLM.MaxTokens,
		CacheSize:   cfg.Pipeline.QueryCacheSize,
		FastPath:    cfg.Pipeline.FastPath,
		Logger:      logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := pipeline.Deps{
		Classifier: intent.NewClassifier(a.usage, intent.Options{Timeout: cfg.LLM.ClassifyTimeout, Logger: logger}),
		Resolver:   entity.NewResolver(a.schema),
		Generator:  gen,
		Executor:   a.executor,
		Synthesizer: answer.NewSynthesizer(a.usage, answer.Options{
			CallTimeout: cfg.LLM.SynthesizeTimeout,
			MaxTokens:   cfg.LLM.MaxTokens,
			Logger:      logger,
		}),
		Store: conversation.NewStore(conversation.Options{
			MaxConversations: cfg.Pipeline.MaxConversations,
			TTL:              cfg.Pipeline.ConversationTTL,
			HistoryTurns:     cfg.Pipeline.HistoryTurns,
		}),
	}

	if withTranscripts && cfg.Transcripts {
		if a.database, err = db.Open(cfg.DBPath()); err != nil {
			a.Close()
			return nil, fmt.Errorf("opening database: %w", err)
		}
		a.transcripts = transcript.NewStore(a.database)
		deps.Recorder = a.transcripts
	}

	a.pipeline = pipeline.New(deps, pipeline.Options{
		TurnTimeout: cfg.Pipeline.TurnTimeout,
		Logger:      logger,
	})
	return a, nil
}

// Close releases the graph driver, database and tracer.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.graph != nil {
		if err := a.graph.Close(ctx); err != nil {
			a.logger.Warn("closing graph driver", "error", err)
		}
	}
	if a.database != nil {
		a.database.Close()
	}
	if a.stopTracing != nil {
		if err := a.stopTracing(ctx); err != nil {
			a.logger.Warn("stopping tracer", "error", err)
		}
	}
}

// cost estimates the spend of the model calls made so far.
func (a *app) cost() (llm.Usage, float64) {
	u := a.usage.Usage()
	return u, llm.EstimateCost(a.cfg.Model, u.InputTokens, u.OutputTokens)
}
