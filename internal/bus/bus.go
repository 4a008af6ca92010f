// Package bus implements the three durable queues spec §4.8 names
// (scripts, video, publish) on top of Redis Streams consumer groups:
// at-least-once delivery, prefetch=1, manual ack, nack-without-requeue to a
// dead-letter stream for non-retriable failures. Grounded on the teacher's
// go-redis usage in ledger.go (same client, same low-latency tuning);
// Redis Streams is the only queue-capable primitive actually present across
// the retrieved pack (no repo imports a dedicated broker client), so the
// durable-FIFO contract spec §4.8 describes is built on it directly rather
// than on an unavailable dependency like RabbitMQ's pika-equivalent.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/Harshaan-Chugh/rabbitreels/internal/retry"
)

const (
	QueueScripts = "scripts"
	QueueVideo   = "video"
	QueuePublish = "publish"

	consumerGroup    = "rabbitreels-workers"
	claimIdleTimeout = 5 * time.Minute
)

// Message is the at-least-once envelope. Body carries the stable JSON
// fields spec §6 names: job_id, prompt, character_theme, title, or turns.
type Message struct {
	ID   string
	Body map[string]interface{}
}

// Bus is a thin wrapper over a Redis Streams consumer-group client.
type Bus struct {
	rdb *redis.Client
	log zerolog.Logger
}

func New(rdb *redis.Client, log zerolog.Logger) *Bus {
	return &Bus{rdb: rdb, log: log.With().Str("subcomponent", "bus").Logger()}
}

// EnsureGroup creates the consumer group for queue if it does not already
// exist (idempotent: BUSYGROUP is swallowed).
func (b *Bus) EnsureGroup(ctx context.Context, queue string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, queue, consumerGroup, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		if containsBusyGroup(err) {
			return nil
		}
		return err
	}
	return nil
}

func containsBusyGroup(err error) bool {
	return err != nil && (redisErrContains(err, "BUSYGROUP"))
}

func redisErrContains(err error, substr string) bool {
	s := err.Error()
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// Publish persists body onto queue, retrying per spec §4.2 step 4's policy
// at the call site (callers pass their own retry.Policy via retry.Do; this
// method is the single attempt retry.Do wraps).
func (b *Bus) Publish(ctx context.Context, queue string, body map[string]interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: queue,
		Values: map[string]interface{}{"body": data},
	}).Err()
}

// PublishWithRetry wraps Publish in the gateway's enqueue retry policy
// (spec §4.2 step 4: 3 attempts, 1s backoff).
func (b *Bus) PublishWithRetry(ctx context.Context, queue string, body map[string]interface{}) error {
	return retry.Do(ctx, retry.GatewayEnqueuePolicy(), func(ctx context.Context) error {
		return b.Publish(ctx, queue, body)
	})
}

// Consume pulls at most one undelivered message for consumerName from
// queue (prefetch=1, per spec §4.4's cooperative single-message loop), then
// falls back to claiming one message idle longer than claimIdleTimeout from
// a dead consumer so an at-least-once redelivery still happens if a worker
// disappears mid-job.
func (b *Bus) Consume(ctx context.Context, queue, consumerName string, block time.Duration) (*Message, error) {
	res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: consumerName,
		Streams:  []string{queue, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(res) > 0 && len(res[0].Messages) > 0 {
		return toMessage(res[0].Messages[0]), nil
	}

	claimed, _, err := b.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   queue,
		Group:    consumerGroup,
		Consumer: consumerName,
		MinIdle:  claimIdleTimeout,
		Start:    "0",
		Count:    1,
	}).Result()
	if err != nil {
		return nil, nil // no claimable message; not an error condition
	}
	if len(claimed) == 0 {
		return nil, nil
	}
	return toMessage(claimed[0]), nil
}

func toMessage(xm redis.XMessage) *Message {
	raw, _ := xm.Values["body"].(string)
	var body map[string]interface{}
	_ = json.Unmarshal([]byte(raw), &body)
	return &Message{ID: xm.ID, Body: body}
}

// Ack acknowledges successful terminal processing of msg on queue.
func (b *Bus) Ack(ctx context.Context, queue string, msg *Message) error {
	return b.rdb.XAck(ctx, queue, consumerGroup, msg.ID).Err()
}

// DeadLetter acks msg (removing it from the pending list) and appends it to
// a `{queue}:dead` stream for operator review instead of requeuing it, per
// spec §4.8's "nack-without-requeue on non-retriable failures".
func (b *Bus) DeadLetter(ctx context.Context, queue string, msg *Message, reason string) error {
	body := msg.Body
	if body == nil {
		body = map[string]interface{}{}
	}
	body["dead_letter_reason"] = reason
	if err := b.Publish(ctx, queue+":dead", body); err != nil {
		return err
	}
	return b.Ack(ctx, queue, msg)
}
