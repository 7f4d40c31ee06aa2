package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Runner is the pair of batch passes the service triggers.
type Runner interface {
	RegisterTasks(ctx context.Context) (bool, error)
	ProcessTasks(ctx context.Context) error
}

// Service triggers task registration and processing on standard cron specs.
// It replaces an external timer; the passes themselves are stateless.
type Service struct {
	runner   Runner
	cron     *cron.Cron
	triggers Triggers
	timeout  time.Duration
}

type Triggers struct {
	Register string
	Process  string
}

func NewService(runner Runner, loc *time.Location, triggers Triggers, timeout time.Duration) (*Service, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		runner:   runner,
		cron:     cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		triggers: triggers,
		timeout:  timeout,
	}
	if _, err := s.cron.AddFunc(triggers.Register, s.register); err != nil {
		return nil, fmt.Errorf("register trigger %q: %w", triggers.Register, err)
	}
	if _, err := s.cron.AddFunc(triggers.Process, s.process); err != nil {
		return nil, fmt.Errorf("process trigger %q: %w", triggers.Process, err)
	}
	return s, nil
}

// Start runs the triggers until ctx is done, then waits for running passes.
func (s *Service) Start(ctx context.Context) {
	now := time.Now()
	nextRegister, _ := NextRunTime(s.triggers.Register, now)
	nextProcess, _ := NextRunTime(s.triggers.Process, now)
	log.Info().
		Str("register", s.triggers.Register).
		Str("process", s.triggers.Process).
		Time("next_register", nextRegister).
		Time("next_process", nextProcess).
		Msg("trigger service started")
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	log.Info().Msg("trigger service stopped")
}

func (s *Service) passContext() (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Service) register() {
	ctx, cancel := s.passContext()
	defer cancel()
	if _, err := s.runner.RegisterTasks(ctx); err != nil {
		log.Error().Err(err).Msg("register pass failed")
	}
}

func (s *Service) process() {
	ctx, cancel := s.passContext()
	defer cancel()
	if err := s.runner.ProcessTasks(ctx); err != nil {
		log.Error().Err(err).Msg("process pass failed")
	}
}

// NextRunTime calculates the next trigger time for a standard cron spec.
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}
