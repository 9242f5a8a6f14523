// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/dukex/pipewright/pkg/actions/env"
	"github.com/dukex/pipewright/pkg/actions/httprequest"
	logaction "github.com/dukex/pipewright/pkg/actions/log"
	"github.com/dukex/pipewright/pkg/actions/run"
	"github.com/dukex/pipewright/pkg/registry"
	"github.com/dukex/pipewright/pkg/triggers/queue"
	"github.com/dukex/pipewright/pkg/triggers/schedule"
)

// NewRegistry returns a registry holding the built-in actions and triggers.
func NewRegistry(log *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(log)

	reg.RegisterAction(run.NewActionFactory())
	reg.RegisterAction(logaction.NewActionFactory())
	reg.RegisterAction(env.NewActionFactory())
	reg.RegisterAction(httprequest.NewActionFactory())

	reg.RegisterTrigger(schedule.NewTriggerFactory())
	reg.RegisterTrigger(queue.NewTriggerFactory())

	return reg
}
