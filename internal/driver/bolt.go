package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/agenthands/partgraph/internal/apperr"
)

type Dialect string

const (
	DialectNeo4j    Dialect = "neo4j"
	DialectMemgraph Dialect = "memgraph"
)

func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case DialectNeo4j, DialectMemgraph:
		return Dialect(s), nil
	}
	return "", fmt.Errorf("unknown graph dialect %q", s)
}

// BoltDriver talks to Neo4j or Memgraph. Both speak Bolt and Cypher; they
// differ only in schema DDL.
type BoltDriver struct {
	Driver  neo4j.DriverWithContext
	Dialect Dialect
	Logger  *zap.Logger
}

func NewBoltDriver(ctx context.Context, uri, username, password string, dialect Dialect, logger *zap.Logger) (*BoltDriver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create bolt driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, apperr.Unavailable(err, "connect")
	}

	logger.Info("connected to graph server", zap.String("uri", uri), zap.String("dialect", string(dialect)))
	return &BoltDriver{Driver: driver, Dialect: dialect, Logger: logger}, nil
}

func (d *BoltDriver) Close(ctx context.Context) error {
	return d.Driver.Close(ctx)
}

func (d *BoltDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, d.Driver, query, params, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithWritersRouting())
	if err != nil {
		return neo4j.EagerResult{}, classify(err, "write")
	}
	return *result, nil
}

func (d *BoltDriver) ExecuteReadQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, d.Driver, query, params, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return neo4j.EagerResult{}, classify(err, "read")
	}
	return *result, nil
}

// BuildIndices creates the label-scoped uniqueness constraints every merge
// relies on. Memgraph has no IF NOT EXISTS, so "already exists" failures
// there are logged and skipped.
func (d *BoltDriver) BuildIndices(ctx context.Context) error {
	for _, q := range SchemaQueries(d.Dialect) {
		if _, err := d.ExecuteQuery(ctx, q, nil); err != nil {
			if d.Dialect == DialectMemgraph && !apperr.IsTransient(err) {
				d.Logger.Warn("schema statement skipped", zap.String("query", q), zap.Error(err))
				continue
			}
			return fmt.Errorf("failed to apply schema %q: %w", q, err)
		}
	}
	return nil
}

func classify(err error, op string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.FromContext(err, op)
	}
	if neo4j.IsRetryable(err) {
		return apperr.Transient(err, op)
	}
	return fmt.Errorf("failed to execute query: %w", err)
}
