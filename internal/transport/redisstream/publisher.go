package redisstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/ingest"
)

// Publisher appends events to the stream configured for their kind.
type Publisher struct {
	Client  *redis.Client
	Streams map[ingest.Kind]string
}

func NewPublisher(client *redis.Client, streams map[ingest.Kind]string) *Publisher {
	return &Publisher{Client: client, Streams: streams}
}

// Publish XADDs v as JSON and returns the entry id.
func (p *Publisher) Publish(ctx context.Context, kind ingest.Kind, v interface{}) (string, error) {
	stream, ok := p.Streams[kind]
	if !ok {
		return "", apperr.Validation("no stream configured for %s events", kind)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s event: %w", kind, err)
	}
	id, err := p.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{DataField: string(data)},
	}).Result()
	if err != nil {
		return "", apperr.Unavailable(err, "publish to "+stream)
	}
	return id, nil
}
