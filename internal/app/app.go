// Package app wires generators, the store, the dispatcher and the alarm into
// the three entry operations.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"instancescheduler/internal/alarm"
	"instancescheduler/internal/cloud"
	"instancescheduler/internal/domain"
	"instancescheduler/internal/metrics"
	"instancescheduler/internal/notify"
	"instancescheduler/internal/queue"
	"instancescheduler/internal/worker"
)

// TaskSource produces the tasks of one register pass.
type TaskSource interface {
	Generate(ctx context.Context, now time.Time) ([]domain.Task, error)
}

type Scheduler struct {
	source   TaskSource
	store    queue.Repository
	pool     *worker.Pool
	alarm    *alarm.Checker
	notifier notify.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Deps struct {
	Source   TaskSource
	Store    queue.Repository
	Pool     *worker.Pool
	Alarm    *alarm.Checker
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func New(d Deps) *Scheduler {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Scheduler{
		source:   d.Source,
		store:    d.Store,
		pool:     d.Pool,
		alarm:    d.Alarm,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		now:      d.Now,
	}
}

type RegisterReport struct {
	RunID   string         `json:"run_id"`
	Total   int            `json:"total"`
	Stored  int            `json:"stored"`
	Skipped int            `json:"skipped"`
	ByKind  map[string]int `json:"by_kind"`
}

// Summary is the text posted to the normal channel after a register pass.
func (r RegisterReport) Summary() string {
	kinds := make([]string, 0, len(r.ByKind))
	for k := range r.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	lines := []string{fmt.Sprintf("Generated %d tasks", r.Total)}
	for _, k := range kinds {
		lines = append(lines, fmt.Sprintf("%s: %d", k, r.ByKind[k]))
	}
	return strings.Join(lines, "\n")
}

// Register generates the lookahead window and stores every task. Storing
// continues past individual failures; they are returned joined.
func (s *Scheduler) Register(ctx context.Context) (RegisterReport, error) {
	rep := RegisterReport{RunID: uuid.NewString(), ByKind: map[string]int{}}
	logger := log.With().Str("run_id", rep.RunID).Str("pass", "register").Logger()

	tasks, err := s.source.Generate(ctx, s.now())
	if err != nil {
		s.metrics.RecordPass("register", err)
		return rep, fmt.Errorf("generate tasks: %w", err)
	}
	tasks, rep.Skipped = s.dropPendingDeregistrations(ctx, tasks)
	rep.Total = len(tasks)
	for _, t := range tasks {
		rep.ByKind[string(t.Kind)]++
	}
	if err := s.notifier.Log(ctx, rep.Summary()); err != nil {
		logger.Warn().Err(err).Msg("register summary notification failed")
	}

	var errs []error
	for i := range tasks {
		t := &tasks[i]
		if err := s.store.Put(ctx, t); err != nil {
			logger.Error().Err(err).Str("kind", string(t.Kind)).Str("resource_id", t.ResourceID).Msg("storing task failed")
			errs = append(errs, err)
			continue
		}
		rep.Stored++
		s.metrics.TaskGenerated(string(t.Kind))
		logger.Debug().Str("key", t.Key).Msg("task stored")
	}
	err = errors.Join(errs...)
	s.metrics.RecordPass("register", err)
	logger.Info().Int("total", rep.Total).Int("stored", rep.Stored).Msg("register pass finished")
	return rep, err
}

// dropPendingDeregistrations removes deregistrations of images that already
// have one stored. Their scheduled time carries a random delay, so a repeat
// pass would otherwise store a second record under a different key.
func (s *Scheduler) dropPendingDeregistrations(ctx context.Context, tasks []domain.Task) ([]domain.Task, int) {
	stored, err := s.store.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("listing stored tasks failed, keeping every deregistration")
		return tasks, 0
	}
	pending := map[string]bool{}
	for _, t := range stored {
		if t.Kind == domain.KindDeregisterImage {
			pending[t.ResourceID] = true
		}
	}
	if len(pending) == 0 {
		return tasks, 0
	}
	out := tasks[:0]
	for _, t := range tasks {
		if t.Kind == domain.KindDeregisterImage && pending[t.ResourceID] {
			continue
		}
		out = append(out, t)
	}
	return out, len(tasks) - len(out)
}

// RegisterTasks is Register for trigger callers that only need success.
func (s *Scheduler) RegisterTasks(ctx context.Context) (bool, error) {
	_, err := s.Register(ctx)
	return err == nil, err
}

type ProcessReport struct {
	RunID   string           `json:"run_id"`
	Tasks   worker.Summary   `json:"tasks"`
	Flagged []cloud.Instance `json:"flagged"`
}

// Process dispatches every due task, then runs the always-running check.
// The check runs even when dispatching failed.
func (s *Scheduler) Process(ctx context.Context) (ProcessReport, error) {
	rep := ProcessReport{RunID: uuid.NewString()}
	logger := log.With().Str("run_id", rep.RunID).Str("pass", "process").Logger()
	now := s.now()

	sum, runErr := s.pool.RunDue(ctx, now)
	rep.Tasks = sum
	if runErr != nil {
		logger.Error().Err(runErr).Msg("dispatch aborted")
	}

	flagged, alarmErr := s.alarm.Run(ctx, now)
	rep.Flagged = flagged
	if alarmErr != nil {
		logger.Error().Err(alarmErr).Msg("always-running check failed")
	}

	err := errors.Join(runErr, alarmErr)
	s.metrics.RecordPass("process", err)
	logger.Info().
		Int("ok", sum.OK).
		Int("retry", sum.Retry).
		Int("error", sum.Error).
		Int("flagged", len(flagged)).
		Msg("process pass finished")
	return rep, err
}

func (s *Scheduler) ProcessTasks(ctx context.Context) error {
	_, err := s.Process(ctx)
	return err
}

// ProcessTask runs one stored task by key and applies its result.
func (s *Scheduler) ProcessTask(ctx context.Context, key string) (domain.Result, error) {
	if key == "" {
		return domain.Result{}, fmt.Errorf("task key is required")
	}
	log.Info().Str("key", key).Msg("processing task")
	return s.pool.ProcessByKey(ctx, key)
}

// Tasks lists the stored tasks.
func (s *Scheduler) Tasks(ctx context.Context) ([]domain.Task, error) {
	return s.store.List(ctx)
}

func (s *Scheduler) Task(ctx context.Context, key string) (domain.Task, error) {
	return s.store.Get(ctx, key)
}
