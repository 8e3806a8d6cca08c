package driver

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// GraphDriver runs Cypher against a Bolt server. Errors the server marks as
// retryable come back as apperr TRANSIENT_STORE_ERROR.
type GraphDriver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error)
	ExecuteReadQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error)
	BuildIndices(ctx context.Context) error
	Close(ctx context.Context) error
}
