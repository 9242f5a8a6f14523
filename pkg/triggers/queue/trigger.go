// Package queue starts runs from event messages popped off a Redis list.
// Each message is a JSON object whose "event" field names the trigger kind,
// for example {"event": "push", "ref": "refs/heads/main"}.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dukex/pipewright/pkg/protocol"
	redis "github.com/redis/go-redis/v9"
)

const (
	defaultAddr = "localhost:6379"
	popTimeout  = time.Second
)

var ErrMissingEvent = errors.New("message has no event")

type Trigger struct {
	ID         string
	Provider   string
	Queue      string
	Connection map[string]string
	Enabled    bool

	client   redis.UniversalClient
	callback protocol.TriggerCallback
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func NewTrigger(config map[string]any, logger *slog.Logger) (*Trigger, error) {
	id, _ := config["id"].(string)
	queue, _ := config["queue"].(string)

	provider, _ := config["provider"].(string)
	if provider == "" {
		provider = "redis"
	}

	connection := make(map[string]string)
	if values, ok := config["connection"].(map[string]any); ok {
		for k, v := range values {
			if str, ok := v.(string); ok {
				connection[k] = str
			}
		}
	}

	enabled := true
	if value, ok := config["enabled"].(bool); ok {
		enabled = value
	}

	trigger := &Trigger{
		ID:         id,
		Provider:   provider,
		Queue:      queue,
		Connection: connection,
		Enabled:    enabled,
		stopCh:     make(chan struct{}),
		logger: logger.With(
			"module", "queue_trigger",
			"id", id,
			"queue", queue,
		),
	}

	if err := trigger.Validate(); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate() error {
	if t.ID == "" {
		return errors.New("queue trigger ID is required")
	}

	if t.Queue == "" {
		return errors.New("queue trigger queue name is required")
	}

	if t.Provider != "redis" {
		return fmt.Errorf("unsupported queue provider: %s", t.Provider)
	}

	if db := t.Connection["db"]; db != "" {
		if _, err := strconv.Atoi(db); err != nil {
			return fmt.Errorf("invalid db value %q: %w", db, err)
		}
	}

	return nil
}

// WithClient replaces the client built from the connection settings.
func (t *Trigger) WithClient(client redis.UniversalClient) *Trigger {
	t.client = client

	return t
}

func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "Queue trigger is disabled")

		return nil
	}

	t.logger.InfoContext(ctx, "Starting queue trigger")
	t.callback = callback

	if t.client == nil {
		t.client = t.newClient()
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := t.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	t.wg.Add(1)

	go t.consume(ctx)

	return nil
}

func (t *Trigger) newClient() redis.UniversalClient {
	addr := t.Connection["addr"]
	if addr == "" {
		addr = defaultAddr
	}

	db, _ := strconv.Atoi(t.Connection["db"])

	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: t.Connection["password"],
		DB:       db,
	})
}

func (t *Trigger) consume(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case <-t.stopCh:
			t.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			t.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			if err := t.pop(ctx); err != nil {
				t.logger.ErrorContext(ctx, "Error processing message", "error", err)

				select {
				case <-time.After(time.Second):
				case <-t.stopCh:
				case <-ctx.Done():
				}
			}
		}
	}
}

func (t *Trigger) pop(ctx context.Context) error {
	result, err := t.client.BLPop(ctx, popTimeout, t.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	t.handle(ctx, result[1])

	return nil
}

func (t *Trigger) handle(ctx context.Context, message string) {
	data, err := t.decode(message)
	if err != nil {
		t.logger.WarnContext(ctx, "Dropping queue message", "error", err)

		return
	}

	t.logger.InfoContext(ctx, "Received event from queue", "event", data["event"])

	if err := t.callback(ctx, data); err != nil {
		t.logger.ErrorContext(ctx, "Failed to start runs for queue event", "error", err)
	}
}

// decode turns a message into trigger data. The event field is required and
// names the trigger kind the message stands for.
func (t *Trigger) decode(message string) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(message), &data); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	event, _ := data["event"].(string)
	if event == "" {
		return nil, ErrMissingEvent
	}

	data["trigger"] = "queue"
	data["trigger_id"] = t.ID

	if data["timestamp"] == nil {
		data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}

	return data, nil
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping queue trigger")

	t.once.Do(func() { close(t.stopCh) })
	t.wg.Wait()

	if t.client != nil {
		if err := t.client.Close(); err != nil {
			t.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}

		t.client = nil
	}

	return nil
}
