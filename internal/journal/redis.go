package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/docflow/model"
)

// DefaultStreamPrefix prefixes the per-document Redis stream key.
const DefaultStreamPrefix = "docflow:journal"

const eventField = "event"

// RedisJournal appends events to one Redis stream per document. Streams are
// trimmed approximately to maxLen entries.
type RedisJournal struct {
	client redis.Cmdable
	prefix string
	maxLen int64
}

// NewRedisJournal creates a Redis-backed journal.
func NewRedisJournal(client redis.Cmdable, prefix string, maxLen int64) *RedisJournal {
	if prefix == "" {
		prefix = DefaultStreamPrefix
	}
	return &RedisJournal{client: client, prefix: prefix, maxLen: maxLen}
}

// StreamKey returns the stream key for a document.
func (j *RedisJournal) StreamKey(documentID string) string {
	return fmt.Sprintf("%s:%s", j.prefix, documentID)
}

// Append adds the event to the document's stream.
func (j *RedisJournal) Append(ctx context.Context, event model.TransitionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transition event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: j.StreamKey(event.DocumentID),
		Values: map[string]any{eventField: data},
	}
	if j.maxLen > 0 {
		args.MaxLen = j.maxLen
		args.Approx = true
	}
	if err := j.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis xadd %q: %w", args.Stream, err)
	}
	return nil
}

// List reads the most recent events of a document, oldest first.
func (j *RedisJournal) List(ctx context.Context, documentID string, limit int) ([]model.TransitionEvent, error) {
	key := j.StreamKey(documentID)
	msgs, err := j.client.XRevRangeN(ctx, key, "+", "-", int64(normalizeLimit(limit))).Result()
	if err != nil {
		return nil, fmt.Errorf("redis xrevrange %q: %w", key, err)
	}

	events := make([]model.TransitionEvent, 0, len(msgs))
	for n := len(msgs) - 1; n >= 0; n-- {
		raw, ok := msgs[n].Values[eventField].(string)
		if !ok {
			continue
		}
		var ev model.TransitionEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal journal entry %s: %w", msgs[n].ID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// HealthCheck pings Redis.
func (j *RedisJournal) HealthCheck(ctx context.Context) error {
	return j.client.Ping(ctx).Err()
}
