// Package database executes database start and stop tasks.
package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"instancescheduler/internal/cloud"
	"instancescheduler/internal/domain"
)

// States treated as already at or heading to the target.
var (
	upStates   = map[string]bool{cloud.DatabaseAvailable: true, "starting": true}
	downStates = map[string]bool{cloud.DatabaseStopped: true, "stopping": true}
)

type Handler struct {
	databases cloud.Databases
	dryRun    bool
}

func New(d cloud.Databases, dryRun bool) *Handler {
	return &Handler{databases: d, dryRun: dryRun}
}

// Handle never asks for a retry: database state changes fail as ERROR.
func (h *Handler) Handle(ctx context.Context, t domain.Task) (domain.Result, error) {
	var (
		done map[string]bool
		verb string
		op   func(context.Context, string) error
	)
	switch t.Kind {
	case domain.KindStartDatabase:
		done, verb, op = upStates, "start", h.databases.StartDBInstance
	case domain.KindStopDatabase:
		done, verb, op = downStates, "stop", h.databases.StopDBInstance
	default:
		return domain.Result{}, fmt.Errorf("%w: database handler cannot run %s", domain.ErrInvalidTask, t.Kind)
	}

	id := t.ResourceID
	db, err := h.databases.DBInstance(ctx, id)
	if err != nil {
		return domain.Error(fmt.Sprintf("describe %s: %v", id, err)), nil
	}
	if db == nil {
		return domain.Error(fmt.Sprintf("db instance %s not found", id)), nil
	}
	if done[db.Status] {
		return domain.OK(fmt.Sprintf("skipped: %s is %s", id, db.Status)), nil
	}
	if h.dryRun {
		log.Info().Str("resource_id", id).Str("action", verb).Msg("dry run: skipping db state change")
		return domain.OK("dry run"), nil
	}
	if err := op(ctx, id); err != nil {
		return domain.Error(fmt.Sprintf("%s %s: %v", verb, id, err)), nil
	}
	return domain.OK(fmt.Sprintf("%s %s", verb, id)), nil
}
