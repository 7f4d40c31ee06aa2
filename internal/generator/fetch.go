package generator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"

	"instancescheduler/internal/cloud"
	"instancescheduler/internal/domain"
)

const DefaultLookaheadHours = 25

type Options struct {
	LookaheadHours int
	Location       *time.Location
	// Jitter delays each image deregistration. Defaults to a uniform draw
	// from [JitterMin, JitterMax).
	Jitter func() time.Duration
}

// Generator lists resources from the provider and runs every generator over
// the snapshot.
type Generator struct {
	provider cloud.Provider
	opts     Options
}

func New(p cloud.Provider, opts Options) *Generator {
	if opts.LookaheadHours <= 0 {
		opts.LookaheadHours = DefaultLookaheadHours
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Jitter == nil {
		opts.Jitter = RandomJitter
	}
	return &Generator{provider: p, opts: opts}
}

func RandomJitter() time.Duration {
	return JitterMin + rand.N(JitterMax-JitterMin)
}

// Generate returns the tasks due within the lookahead window from now.
func (g *Generator) Generate(ctx context.Context, now time.Time) ([]domain.Task, error) {
	ref := now.In(g.opts.Location).Truncate(time.Second)
	hours := g.opts.LookaheadHours

	instances, err := g.provider.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	dbs, err := g.provider.ListDBInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list db instances: %w", err)
	}
	images, err := g.provider.ListImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	log.Info().
		Int("instances", len(instances)).
		Int("db_instances", len(dbs)).
		Int("images", len(images)).
		Time("ref", ref).
		Int("hours", hours).
		Msg("generating tasks")

	var tasks []domain.Task
	tasks = append(tasks, ComputeStartStop(instances, hours, ref)...)
	tasks = append(tasks, ImageRegistration(instances, true, hours, ref)...)
	tasks = append(tasks, ImageRegistration(instances, false, hours, ref)...)
	tasks = append(tasks, DatabaseStartStop(dbs, hours, ref)...)
	tasks = append(tasks, ImageDeregistration(images, ref, g.opts.Jitter)...)
	return tasks, nil
}
