// Package redisstream delivers ingestion events over Redis Streams consumer
// groups, at least once. A message is acknowledged after it was handled or
// found unusable; transient failures leave it pending for redelivery.
package redisstream

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/ingest"
)

// DataField is the stream entry field holding the JSON event.
const DataField = "data"

type Handler interface {
	Handle(ctx context.Context, ev ingest.Event) (ingest.Result, error)
}

type Consumer struct {
	Client  *redis.Client
	Group   string
	Name    string
	Streams map[string]ingest.Kind
	Block   time.Duration
	Count   int64
	Handler Handler
	Logger  *zap.Logger
	Backoff time.Duration
	keys    []string

	// MaxPayloadDepth bounds the nesting of decoded evidence payloads.
	MaxPayloadDepth int
}

func NewConsumer(client *redis.Client, group, name string, streams map[string]ingest.Kind, handler Handler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	keys := make([]string, 0, len(streams))
	for k := range streams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &Consumer{
		Client:  client,
		Group:   group,
		Name:    name,
		Streams: streams,
		Block:   5 * time.Second,
		Count:   32,
		Handler: handler,
		Logger:  logger.With(zap.String("group", group), zap.String("consumer", name)),
		Backoff: time.Second,
		keys:    keys,

		MaxPayloadDepth: model.DefaultMaxDepth,
	}
}

// EnsureGroups creates the consumer group on every stream, creating the
// streams when missing.
func (c *Consumer) EnsureGroups(ctx context.Context) error {
	for _, stream := range c.keys {
		err := c.Client.XGroupCreateMkStream(ctx, stream, c.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return apperr.Unavailable(err, "create consumer group on "+stream)
		}
	}
	return nil
}

// Run replays this consumer's pending entries, then reads new entries until
// ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroups(ctx); err != nil {
		return err
	}
	if err := c.ProcessPending(ctx); err != nil {
		return err
	}
	c.Logger.Info("consuming streams", zap.Strings("streams", c.keys))
	for ctx.Err() == nil {
		if _, _, err := c.poll(ctx, ">", c.Block); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Warn("stream read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.Backoff):
			}
		}
	}
	return nil
}

// ProcessPending re-handles entries delivered to this consumer earlier but
// never acknowledged. It stops when a pass acknowledges nothing.
func (c *Consumer) ProcessPending(ctx context.Context) error {
	for {
		n, acked, err := c.poll(ctx, "0", -1)
		if err != nil {
			return apperr.FromContext(err, "read pending entries")
		}
		if n == 0 || acked == 0 {
			return nil
		}
	}
}

// poll reads one batch starting at id and handles it. block < 0 reads
// without blocking.
func (c *Consumer) poll(ctx context.Context, id string, block time.Duration) (read, acked int, err error) {
	streams := make([]string, 0, 2*len(c.keys))
	streams = append(streams, c.keys...)
	for range c.keys {
		streams = append(streams, id)
	}
	res, err := c.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.Group,
		Consumer: c.Name,
		Streams:  streams,
		Count:    c.Count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}

	for _, stream := range res {
		kind := c.Streams[stream.Stream]
		for _, msg := range stream.Messages {
			read++
			if !c.handle(ctx, stream.Stream, kind, msg) {
				continue
			}
			if err := c.Client.XAck(ctx, stream.Stream, c.Group, msg.ID).Err(); err != nil {
				return read, acked, err
			}
			acked++
		}
	}
	return read, acked, nil
}

// handle reports whether msg should be acknowledged.
func (c *Consumer) handle(ctx context.Context, stream string, kind ingest.Kind, msg redis.XMessage) bool {
	log := c.Logger.With(zap.String("stream", stream), zap.String("message_id", msg.ID))

	raw, _ := msg.Values[DataField].(string)
	ev, err := ingest.DecodeEvent(kind, []byte(raw), c.MaxPayloadDepth)
	if err == nil {
		var res ingest.Result
		res, err = c.Handler.Handle(ctx, ev)
		if err == nil {
			log.Debug("event handled", zap.String("record_id", res.DocumentID), zap.Bool("duplicate", res.Duplicate))
			return true
		}
	}

	switch apperr.CodeOf(err) {
	case apperr.CodeCorruptEvidence, apperr.CodeValidation:
		log.Warn("unusable event acknowledged",
			zap.String("code", string(apperr.CodeOf(err))),
			zap.Error(err))
		return true
	default:
		log.Warn("event left pending",
			zap.String("code", string(apperr.CodeOf(err))),
			zap.Error(err))
		return false
	}
}
