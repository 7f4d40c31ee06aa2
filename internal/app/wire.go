package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"instancescheduler/internal/alarm"
	"instancescheduler/internal/cloud"
	"instancescheduler/internal/cloud/awsprovider"
	"instancescheduler/internal/cloud/fake"
	"instancescheduler/internal/config"
	"instancescheduler/internal/domain"
	"instancescheduler/internal/generator"
	"instancescheduler/internal/handlers/compute"
	"instancescheduler/internal/handlers/database"
	"instancescheduler/internal/handlers/image"
	"instancescheduler/internal/metrics"
	"instancescheduler/internal/notify"
	"instancescheduler/internal/queue"
	"instancescheduler/internal/worker"
)

// Runtime is a fully wired scheduler plus the resources to release.
type Runtime struct {
	Scheduler *Scheduler
	Store     *queue.Store
	Registry  *prometheus.Registry
	closers   []func()
}

func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// OpenDB opens the SQLite task database.
func OpenDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	return db, nil
}

// Build opens the store, connects the cloud provider and notifier, and wires
// the scheduler from cfg.
func Build(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	db, err := OpenDB(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	var provider cloud.Provider
	switch cfg.AWS.Provider {
	case "fake":
		log.Warn().Msg("using the in-memory cloud provider")
		provider = fake.New()
	default:
		provider, err = awsprovider.New(ctx, awsprovider.Options{
			Region:          cfg.AWS.Region,
			AccountNo:       cfg.AWS.AccountNo,
			ImageNamePrefix: cfg.AWS.ImageNamePrefix,
			WaitTimeout:     cfg.AWS.WaitTimeout,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("aws provider: %w", err)
		}
	}

	var (
		sender  notify.Sender
		closers []func()
	)
	switch cfg.Notify.Backend {
	case "slack":
		sender = notify.NewSlackSender(cfg.Notify.SlackToken, cfg.Notify.Nickname, cfg.Notify.Icon)
	case "nats":
		ns, err := notify.NewNATSSender(cfg.Notify.NATSURL, cfg.Notify.NATSSubject, cfg.Notify.Nickname)
		if err != nil {
			db.Close()
			return nil, err
		}
		sender = ns
		closers = append(closers, ns.Close)
	}

	rt, err := Assemble(db, cfg, provider, sender)
	if err != nil {
		for _, c := range closers {
			c()
		}
		db.Close()
		return nil, err
	}
	rt.closers = append([]func(){func() { db.Close() }}, closers...)
	return rt, nil
}

// Assemble wires every component over already opened collaborators. A nil
// sender keeps notifications in the log.
func Assemble(db *sql.DB, cfg *config.Config, provider cloud.Provider, sender notify.Sender) (*Runtime, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	loc := cfg.Location()

	backend, err := queue.NewSQLiteBackend(db, cfg.Store.Table)
	if err != nil {
		return nil, fmt.Errorf("task store: %w", err)
	}
	store := queue.NewStore(backend, queue.Options{
		RetentionDays: cfg.Store.RetentionDays,
		Location:      loc,
		DryRun:        cfg.DryRun,
	})

	reg := prometheus.NewRegistry()
	m := metrics.New("instancescheduler", reg)

	notifier := notify.New(sender, notify.Channels{Normal: cfg.Notify.Channel, Error: cfg.Notify.ErrorChannel}, cfg.Notify.RatePerSec)
	naming := generator.ImageNaming{Prefix: cfg.AWS.ImageNamePrefix, RetentionDays: cfg.Schedule.ImageRetentionDays}
	now := func() time.Time { return time.Now().In(loc) }

	computeHandler := compute.New(provider, notifier, cfg.DryRun)
	imageHandler := image.New(provider, provider, store, image.Options{Naming: naming, DryRun: cfg.DryRun, Now: now})
	databaseHandler := database.New(provider, cfg.DryRun)
	handlers := map[domain.Kind]worker.Handler{
		domain.KindStartCompute:    computeHandler,
		domain.KindStopCompute:     computeHandler,
		domain.KindStatusCheck:     computeHandler,
		domain.KindRegisterImage:   imageHandler,
		domain.KindDeregisterImage: imageHandler,
		domain.KindAddImageTag:     imageHandler,
		domain.KindStartDatabase:   databaseHandler,
		domain.KindStopDatabase:    databaseHandler,
	}
	pool := worker.NewPool(store, handlers, notifier, m, cfg.Worker.Concurrency)
	if missing := pool.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: no handler for %v", worker.ErrInvariant, missing)
	}

	gen := generator.New(provider, generator.Options{LookaheadHours: cfg.Schedule.LookaheadHours, Location: loc})
	checker := alarm.New(provider, notifier, m, alarm.Options{LeadTime: cfg.Schedule.AlarmLeadTime, Location: loc})

	s := New(Deps{
		Source:   gen,
		Store:    store,
		Pool:     pool,
		Alarm:    checker,
		Notifier: notifier,
		Metrics:  m,
		Now:      now,
	})
	log.Info().
		Str("table", cfg.Store.Table).
		Str("provider", cfg.AWS.Provider).
		Str("notify", cfg.Notify.Backend).
		Int("utc_offset", cfg.Schedule.UTCOffsetHours).
		Bool("dry_run", cfg.DryRun).
		Msg("scheduler assembled")
	return &Runtime{Scheduler: s, Store: store, Registry: reg}, nil
}
