// Package image executes image registration, deregistration and tagging.
package image

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"instancescheduler/internal/cloud"
	"instancescheduler/internal/domain"
	"instancescheduler/internal/generator"
)

// TaskWriter stores the follow-up tagging task.
type TaskWriter interface {
	Put(ctx context.Context, t *domain.Task) error
}

type Handler struct {
	compute cloud.Compute
	images  cloud.Images
	tasks   TaskWriter
	naming  generator.ImageNaming
	now     func() time.Time
	dryRun  bool
}

type Options struct {
	Naming generator.ImageNaming
	DryRun bool
	Now    func() time.Time
}

func New(c cloud.Compute, i cloud.Images, w TaskWriter, opts Options) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{compute: c, images: i, tasks: w, naming: opts.Naming, now: opts.Now, dryRun: opts.DryRun}
}

func (h *Handler) Handle(ctx context.Context, t domain.Task) (domain.Result, error) {
	switch p := t.Payload.(type) {
	case domain.ImageRegistration:
		return h.register(ctx, t.ResourceID, p.ForceReboot)
	case domain.ImageDeregistration:
		return h.deregister(ctx, t.ResourceID, p.SnapshotIDs)
	case domain.ImageTags:
		return h.tag(ctx, t.ResourceID, p.Tags)
	}
	return domain.Result{}, fmt.Errorf("%w: image handler cannot run %s with %T", domain.ErrInvalidTask, t.Kind, t.Payload)
}

// register creates an image of the instance and queues its tagging. Errors
// other than a missing instance are left to the dispatcher to retry.
func (h *Handler) register(ctx context.Context, id string, forceReboot bool) (domain.Result, error) {
	inst, err := h.compute.Instance(ctx, id)
	if err != nil {
		return domain.Result{}, err
	}
	if inst == nil {
		return domain.Error(fmt.Sprintf("instance %s not found", id)), nil
	}
	now := h.now()
	name := h.naming.Name(*inst, now)
	if h.dryRun {
		log.Info().Str("resource_id", id).Str("name", name).Msg("dry run: skipping image creation")
		return domain.OK("dry run"), nil
	}
	imageID, err := h.images.CreateImage(ctx, cloud.CreateImageInput{
		InstanceID:  id,
		Name:        name,
		Description: fmt.Sprintf("Automated image of %s", id),
		NoReboot:    !forceReboot,
	})
	if err != nil {
		return domain.Result{}, fmt.Errorf("create image of %s: %w", id, err)
	}

	follow := h.naming.ImageTagFollowUp(*inst, imageID, now)
	if err := h.tasks.Put(ctx, &follow); err != nil {
		// the image exists; retrying would register a second one
		log.Error().Err(err).Str("image_id", imageID).Msg("storing image tag task failed")
		return domain.OK(fmt.Sprintf("registered %s, tag task not stored: %v", imageID, err)), nil
	}
	return domain.OK(fmt.Sprintf("registered %s as %s", imageID, name)), nil
}

// deregister removes the image and then every snapshot, whatever happened to
// the image. An image that is already gone counts as removed.
func (h *Handler) deregister(ctx context.Context, id string, snapshots []string) (domain.Result, error) {
	if h.dryRun {
		log.Info().Str("resource_id", id).Strs("snapshots", snapshots).Msg("dry run: skipping image deregistration")
		return domain.OK("dry run"), nil
	}
	var failures []string
	if err := h.images.DeregisterImage(ctx, id); err != nil && !errors.Is(err, cloud.ErrNotFound) {
		failures = append(failures, fmt.Sprintf("deregister %s: %v", id, err))
	}
	for _, snap := range snapshots {
		if err := h.images.DeleteSnapshot(ctx, snap); err != nil && !errors.Is(err, cloud.ErrNotFound) {
			failures = append(failures, fmt.Sprintf("delete %s: %v", snap, err))
		}
	}
	if len(failures) > 0 {
		return domain.Retry(strings.Join(failures, "; ")), nil
	}
	return domain.OK(fmt.Sprintf("deregistered %s and %d snapshots", id, len(snapshots))), nil
}

func (h *Handler) tag(ctx context.Context, id string, tags []domain.Tag) (domain.Result, error) {
	if h.dryRun {
		log.Info().Str("resource_id", id).Int("tags", len(tags)).Msg("dry run: skipping tagging")
		return domain.OK("dry run"), nil
	}
	if err := h.images.CreateTags(ctx, id, tags); err != nil {
		return domain.Retry(fmt.Sprintf("tag %s: %v", id, err)), nil
	}
	return domain.OK(fmt.Sprintf("tagged %s", id)), nil
}
