// Package registry resolves action identifiers to executables and trigger
// identifiers to trigger sources.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/pipewright/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrActionNotFound  = errors.New("action not registered")
	ErrInvalidParams   = errors.New("invalid action parameters")
	ErrTriggerNotFound = errors.New("trigger not registered")
)

type Registry struct {
	logger           *slog.Logger
	mu               sync.RWMutex
	actionFactories  map[string]protocol.ActionFactory
	triggerFactories map[string]protocol.TriggerFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:           log,
		actionFactories:  make(map[string]protocol.ActionFactory),
		triggerFactories: make(map[string]protocol.TriggerFactory),
	}
}

func (r *Registry) RegisterAction(actionFactory protocol.ActionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.actionFactories[actionFactory.ID()] = actionFactory
}

func (r *Registry) RegisterTrigger(triggerFactory protocol.TriggerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.triggerFactories[triggerFactory.ID()] = triggerFactory
}

// Resolve validates params against the action's schema and builds the
// executable. Unknown actions wrap ErrActionNotFound, rejected params wrap
// ErrInvalidParams.
func (r *Registry) Resolve(ctx context.Context, actionID string, params map[string]string) (protocol.Executable, error) {
	r.mu.RLock()
	factory, ok := r.actionFactories[actionID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrActionNotFound, actionID)
	}

	if err := validateParams(factory.Schema(), params); err != nil {
		return nil, fmt.Errorf("%w for '%s': %v", ErrInvalidParams, actionID, err)
	}

	r.logger.DebugContext(ctx, "Resolved action", "action", actionID)

	return factory.Create(params)
}

// Actions returns the registered action factories ordered by ID.
func (r *Registry) Actions() []protocol.ActionFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factories := make([]protocol.ActionFactory, 0, len(r.actionFactories))
	for _, factory := range r.actionFactories {
		factories = append(factories, factory)
	}

	sort.Slice(factories, func(i, j int) bool {
		return factories[i].ID() < factories[j].ID()
	})

	return factories
}

// HealthCheck reports whether any action can be resolved.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.actionFactories) == 0 {
		return "Registry has no actions", false
	}

	return fmt.Sprintf("Registry has %d actions and %d triggers", len(r.actionFactories), len(r.triggerFactories)), true
}

func (r *Registry) CreateTrigger(triggerID string, config map[string]any) (protocol.Trigger, error) {
	r.mu.RLock()
	factory, ok := r.triggerFactories[triggerID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrTriggerNotFound, triggerID)
	}

	return factory.Create(config, r.logger)
}

func validateParams(schema map[string]any, params map[string]string) error {
	if schema == nil {
		return nil
	}

	document := make(map[string]any, len(params))
	for k, v := range params {
		document[k] = v
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(document))
	if err != nil {
		return err
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}

	return errors.New(strings.Join(messages, "; "))
}

func IsActionNotFound(err error) bool {
	return errors.Is(err, ErrActionNotFound)
}

func IsInvalidParams(err error) bool {
	return errors.Is(err, ErrInvalidParams)
}
