// Package compute executes instance start, stop and status-check tasks.
package compute

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"

	"instancescheduler/internal/cloud"
	"instancescheduler/internal/domain"
	"instancescheduler/internal/notify"
)

type Handler struct {
	compute  cloud.Compute
	notifier notify.Notifier
	dryRun   bool
}

func New(c cloud.Compute, n notify.Notifier, dryRun bool) *Handler {
	return &Handler{compute: c, notifier: n, dryRun: dryRun}
}

func (h *Handler) Handle(ctx context.Context, t domain.Task) (domain.Result, error) {
	switch t.Kind {
	case domain.KindStartCompute:
		return h.change(ctx, t.ResourceID, domain.StatusStopped, domain.StatusRunning, "start", h.compute.StartInstance)
	case domain.KindStopCompute:
		return h.change(ctx, t.ResourceID, domain.StatusRunning, domain.StatusStopped, "stop", h.compute.StopInstance)
	case domain.KindStatusCheck:
		p, ok := t.Payload.(domain.StatusCheck)
		if !ok {
			return domain.Result{}, fmt.Errorf("%w: status check payload %T", domain.ErrInvalidTask, t.Payload)
		}
		return h.check(ctx, t.ResourceID, p.StatusIsNot)
	}
	return domain.Result{}, fmt.Errorf("%w: compute handler cannot run %s", domain.ErrInvalidTask, t.Kind)
}

// change moves an instance from `from` to `to`. Any state other than `from`
// is left alone so a manual operator action is never raced.
func (h *Handler) change(ctx context.Context, id string, from, to domain.StatusCode, verb string, op func(context.Context, string) error) (domain.Result, error) {
	inst, err := h.compute.Instance(ctx, id)
	if err != nil {
		return domain.Error(fmt.Sprintf("describe %s: %v", id, err)), nil
	}
	if inst == nil {
		return domain.Error(fmt.Sprintf("instance %s not found", id)), nil
	}
	switch inst.State {
	case to:
		return domain.OK(fmt.Sprintf("skipped: %s is already %s", id, to)), nil
	case from:
	default:
		return domain.OK(fmt.Sprintf("skipped: %s is %s", id, inst.State)), nil
	}

	if h.dryRun {
		log.Info().Str("resource_id", id).Str("action", verb).Msg("dry run: skipping instance state change")
		return domain.OK("dry run"), nil
	}
	if err := op(ctx, id); err != nil {
		if errors.Is(err, cloud.ErrTimeout) {
			return domain.Retry(fmt.Sprintf("%s %s: %v", verb, id, err)), nil
		}
		return domain.Error(fmt.Sprintf("%s %s: %v", verb, id, err)), nil
	}
	return domain.OK(fmt.Sprintf("%s %s", verb, id)), nil
}

// check alerts when the instance sits in a status that means the preceding
// action did not take effect. A vanished instance has nothing to verify.
func (h *Handler) check(ctx context.Context, id string, disallowed []domain.StatusCode) (domain.Result, error) {
	inst, err := h.compute.Instance(ctx, id)
	if err != nil {
		return domain.Result{}, err
	}
	if inst == nil {
		return domain.OK(fmt.Sprintf("instance %s no longer exists", id)), nil
	}
	if !slices.Contains(disallowed, inst.State) {
		return domain.OK(fmt.Sprintf("%s is %s", id, inst.State)), nil
	}

	msg := fmt.Sprintf("Instance %s (%s) is unexpectedly %s", id, inst.Name(), inst.State)
	if h.dryRun {
		log.Warn().Str("resource_id", id).Msg("dry run: " + msg)
	} else if err := h.notifier.Error(ctx, msg); err != nil {
		log.Error().Err(err).Str("resource_id", id).Msg("status check alert failed")
	}
	return domain.Error(msg), nil
}
