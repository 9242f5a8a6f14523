package protocol

import (
	"context"
	"log/slog"
)

// TriggerCallback is invoked by a trigger source each time its event fires.
type TriggerCallback func(ctx context.Context, data map[string]any) error

// Trigger is a long-running event source, such as a cron schedule or a queue.
type Trigger interface {
	Start(ctx context.Context, callback TriggerCallback) error
	Stop(ctx context.Context) error
	Validate() error
}

type TriggerFactory interface {
	Create(config map[string]any, logger *slog.Logger) (Trigger, error)
	ID() string
}
