package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"instancescheduler/internal/domain"
)

var ErrNotFound = errors.New("task not found")

// Backend is the key-value collaborator the store writes through.
type Backend interface {
	Scan(ctx context.Context, now time.Time) ([]domain.Task, error)
	Get(ctx context.Context, key string, now time.Time) (domain.Task, error)
	Put(ctx context.Context, t domain.Task) error
	Delete(ctx context.Context, key string) error
}

// Repository is the task store contract used by generators and the dispatcher.
type Repository interface {
	Put(ctx context.Context, t *domain.Task) error
	Due(ctx context.Context, asOf time.Time) ([]domain.Task, error)
	Get(ctx context.Context, key string) (domain.Task, error)
	Remove(ctx context.Context, t domain.Task) error
	DecrementRetry(ctx context.Context, t *domain.Task) error
	List(ctx context.Context) ([]domain.Task, error)
}

type Options struct {
	RetentionDays int
	Location      *time.Location
	// DryRun stamps records but skips every write and delete.
	DryRun bool
	Now    func() time.Time
}

type Store struct {
	backend Backend
	opts    Options
}

func NewStore(b Backend, opts Options) *Store {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{backend: b, opts: opts}
}

func (s *Store) now() time.Time { return s.opts.Now().In(s.opts.Location) }

// Put assigns the derived key, stamps ttl and lastModified, then writes the
// record. Writing the same logical task twice leaves a single record.
func (s *Store) Put(ctx context.Context, t *domain.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	now := s.now()
	t.Key = t.DeriveKey()
	t.TTL = now.Unix() + int64(s.opts.RetentionDays)*24*3600
	t.LastModified = domain.FormatTime(now)
	if s.opts.DryRun {
		log.Info().Str("key", t.Key).Msg("dry run: skipping task write")
		return nil
	}
	if err := s.backend.Put(ctx, *t); err != nil {
		return fmt.Errorf("put task %s: %w", t.Key, err)
	}
	return nil
}

// Due returns stored tasks whose scheduled time is at or before asOf (now
// when zero). Records with an unparseable scheduled time are never due.
func (s *Store) Due(ctx context.Context, asOf time.Time) ([]domain.Task, error) {
	now := s.now()
	if asOf.IsZero() {
		asOf = now
	}
	all, err := s.backend.Scan(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	due := make([]domain.Task, 0, len(all))
	for _, t := range all {
		at, err := t.ScheduledAt()
		if err != nil {
			log.Warn().Err(err).Str("key", t.Key).Str("scheduled_time", t.ScheduledTime).Msg("ignoring task with malformed scheduled time")
			continue
		}
		if !asOf.Before(at) {
			due = append(due, t)
		}
	}
	return due, nil
}

func (s *Store) Get(ctx context.Context, key string) (domain.Task, error) {
	return s.backend.Get(ctx, key, s.now())
}

func (s *Store) List(ctx context.Context) ([]domain.Task, error) {
	return s.backend.Scan(ctx, s.now())
}

func (s *Store) Remove(ctx context.Context, t domain.Task) error {
	if s.opts.DryRun {
		log.Info().Str("key", t.Key).Msg("dry run: skipping task removal")
		return nil
	}
	if err := s.backend.Delete(ctx, t.Key); err != nil {
		return fmt.Errorf("remove task %s: %w", t.Key, err)
	}
	return nil
}

// DecrementRetry spends one retry and rewrites the record, or removes it when
// the budget is already exhausted. TTL keeps its original value.
func (s *Store) DecrementRetry(ctx context.Context, t *domain.Task) error {
	if s.opts.DryRun {
		log.Info().Str("key", t.Key).Msg("dry run: skipping retry update")
		return nil
	}
	if t.RemainingRetryCount <= 0 {
		log.Warn().Str("key", t.Key).Str("kind", string(t.Kind)).Str("resource_id", t.ResourceID).Msg("retry budget exhausted, giving up")
		return s.Remove(ctx, *t)
	}
	t.RemainingRetryCount--
	t.LastModified = domain.FormatTime(s.now())
	log.Info().Str("key", t.Key).Int("remaining_retry_count", t.RemainingRetryCount).Msg("task will be retried")
	if err := s.backend.Put(ctx, *t); err != nil {
		return fmt.Errorf("update task %s: %w", t.Key, err)
	}
	return nil
}

var _ Repository = (*Store)(nil)
