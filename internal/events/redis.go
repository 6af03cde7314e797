// Package events publishes escrow ledger events to Redis Streams for
// off-chain indexers. Delivery is best effort: the ledger logs and continues
// when a sink fails, so indexers must tolerate gaps.
package events

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/agelabs/escrow/internal/escrow"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "escrow:events"

// RedisSink appends one stream entry per ledger event.
type RedisSink struct {
	client redis.Cmdable
	stream string
}

// NewRedisSink returns a sink writing to the given stream key.
func NewRedisSink(client redis.Cmdable, stream string) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{client: client, stream: stream}
}

var _ escrow.Sink = (*RedisSink)(nil)

// Emit appends the event. The type and task id are indexed as top-level
// fields; the full event rides along as a JSON payload.
func (s *RedisSink) Emit(ctx context.Context, ev escrow.Event) error {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"type":    ev.Type,
			"task_id": ev.TaskID,
			"payload": payload,
		},
	}).Err()
}

// FanoutSink delivers each event to every underlying sink, returning the
// first error after trying all of them.
type FanoutSink []escrow.Sink

var _ escrow.Sink = (FanoutSink)(nil)

func (f FanoutSink) Emit(ctx context.Context, ev escrow.Event) error {
	var first error
	for _, s := range f {
		if err := s.Emit(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
