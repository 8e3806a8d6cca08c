// Package app wires configuration into the running engine.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agenthands/partgraph/internal/config"
	"github.com/agenthands/partgraph/internal/core/extraction"
	"github.com/agenthands/partgraph/internal/core/populate"
	"github.com/agenthands/partgraph/internal/core/resolve"
	"github.com/agenthands/partgraph/internal/driver"
	"github.com/agenthands/partgraph/internal/evidence"
	"github.com/agenthands/partgraph/internal/graph"
	"github.com/agenthands/partgraph/internal/ingest"
	"github.com/agenthands/partgraph/internal/mcp"
	"github.com/agenthands/partgraph/internal/resilience"
	"github.com/agenthands/partgraph/internal/server"
	"github.com/agenthands/partgraph/internal/transport/redisstream"
)

type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Graph     graph.Store
	Evidence  *evidence.Store
	Populator *populate.Populator
	Resolver  *resolve.Resolver
	Ingestor  *ingest.Ingestor

	redis *redis.Client
}

// Build opens the graph and evidence stores and assembles the engine.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, err := openGraph(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	store := graph.NewResilientStore(base, newPolicy(cfg.Resilience, logger))
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	if dir := filepath.Dir(cfg.Evidence.DBPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to create evidence directory: %w", err)
		}
	}
	ev, err := evidence.NewStore(cfg.Evidence.DBPath, cfg.Evidence.MaxPayloadDepth)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	populator := populate.New(store, logger.Named("populate"))
	extractor := extraction.NewExtractor(extraction.NewSourceClassifier(cfg.Sources.Community))
	ingestor := ingest.New(ev, populator, extractor, logger.Named("ingest"))
	ingestor.Threshold = cfg.Aggregation.Threshold
	ingestor.Workers = cfg.Concurrency.IngestWorkers
	ingestor.Matcher.MaxDepth = cfg.Evidence.MaxPayloadDepth
	ingestor.MaxPayloadDepth = cfg.Evidence.MaxPayloadDepth

	return &App{
		Config:    cfg,
		Logger:    logger,
		Graph:     store,
		Evidence:  ev,
		Populator: populator,
		Resolver:  resolve.New(store, logger.Named("resolve"), cfg.Resolve.Timeout.Std()),
		Ingestor:  ingestor,
	}, nil
}

func openGraph(ctx context.Context, cfg *config.Config, logger *zap.Logger) (graph.Store, error) {
	switch cfg.Graph.Backend {
	case "bolt":
		dialect, err := driver.ParseDialect(cfg.Graph.Dialect)
		if err != nil {
			return nil, err
		}
		d, err := driver.NewBoltDriver(ctx, cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password, dialect, logger.Named("bolt"))
		if err != nil {
			return nil, err
		}
		return graph.NewCypherStore(d), nil
	default:
		return graph.NewBadgerStore(graph.BadgerOptions{
			DataDir:  cfg.Graph.DataDir,
			InMemory: cfg.Graph.InMemory,
			Logger:   logger.Named("badger"),
		})
	}
}

func newPolicy(cfg config.ResilienceConfig, logger *zap.Logger) *resilience.Policy {
	backoff := &resilience.ExponentialBackoff{
		Base:   cfg.BaseDelay.Std(),
		Max:    cfg.MaxDelay.Std(),
		Factor: 2,
		Jitter: cfg.Jitter,
	}
	breaker := resilience.NewCircuitBreaker("graph", cfg.BreakerThreshold, cfg.BreakerCooldown.Std())
	policy := resilience.NewPolicy(cfg.MaxRetries, backoff, breaker, logger.Named("resilience"))
	policy.ConflictRetries = cfg.ConflictRetries
	return policy
}

// Redis returns the shared client, creating it on first use.
func (a *App) Redis() *redis.Client {
	if a.redis == nil {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
	}
	return a.redis
}

// Consumer builds the stream consumer. Without a configured name it gets a
// host-unique one.
func (a *App) Consumer() *redisstream.Consumer {
	rc := a.Config.Redis
	name := rc.Consumer
	if name == "" {
		host, _ := os.Hostname()
		name = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	c := redisstream.NewConsumer(a.Redis(), rc.Group, name, map[string]ingest.Kind{
		rc.EvidenceStream: ingest.KindEvidence,
		rc.SignalStream:   ingest.KindSignal,
		rc.RelationStream: ingest.KindRelation,
	}, a.Ingestor, a.Logger.Named("stream"))
	c.Block = rc.Block.Std()
	c.Count = rc.BatchSize
	c.MaxPayloadDepth = a.Config.Evidence.MaxPayloadDepth
	return c
}

func (a *App) Publisher() *redisstream.Publisher {
	rc := a.Config.Redis
	return redisstream.NewPublisher(a.Redis(), map[ingest.Kind]string{
		ingest.KindEvidence: rc.EvidenceStream,
		ingest.KindSignal:   rc.SignalStream,
		ingest.KindRelation: rc.RelationStream,
	})
}

func (a *App) HTTPServer() *server.Server {
	s := server.NewServer(a.Resolver, a.Ingestor, a.Graph, a.Evidence, a.Logger.Named("http"))
	s.DefaultMaxDepth = a.Config.Resolve.DefaultMaxDepth
	return s
}

func (a *App) MCPServer(version string) *mcp.Server {
	return mcp.NewServer(a.Resolver, a.Graph, version, a.Logger.Named("mcp"))
}

// Close releases the stores and the Redis client.
func (a *App) Close() error {
	var firstErr error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.Evidence.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.Graph.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
