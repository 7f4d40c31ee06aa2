package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"instancescheduler/internal/cloud"
	"instancescheduler/internal/domain"
	"instancescheduler/internal/metrics"
	"instancescheduler/internal/notify"
	"instancescheduler/internal/queue"
)

// ErrInvariant marks an unreachable kind or outcome branch. It aborts the
// enclosing pass instead of being classified.
var ErrInvariant = errors.New("invariant violation")

// Handler runs one task against its resource. A returned error is converted
// to RETRY, or ERROR when it wraps cloud.ErrNotFound or domain.ErrInvalidTask.
type Handler interface {
	Handle(ctx context.Context, t domain.Task) (domain.Result, error)
}

type Pool struct {
	repo     queue.Repository
	handlers map[domain.Kind]Handler
	notifier notify.Notifier
	metrics  *metrics.Metrics
	size     int
}

func NewPool(repo queue.Repository, handlers map[domain.Kind]Handler, notifier notify.Notifier, m *metrics.Metrics, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{repo: repo, handlers: handlers, notifier: notifier, metrics: m, size: size}
}

// Missing lists the kinds without a registered handler.
func (p *Pool) Missing() []domain.Kind {
	var out []domain.Kind
	for _, k := range domain.Kinds {
		if _, ok := p.handlers[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Execute invokes the handler of t and normalizes its outcome.
func (p *Pool) Execute(ctx context.Context, t domain.Task) (domain.Result, error) {
	h, ok := p.handlers[t.Kind]
	if !ok {
		return domain.Result{}, fmt.Errorf("%w: no handler for kind %q", ErrInvariant, t.Kind)
	}
	res, err := h.Handle(ctx, t)
	if err != nil {
		return Classify(err), nil
	}
	return res, nil
}

// Classify maps a handler error onto the result taxonomy.
func Classify(err error) domain.Result {
	if errors.Is(err, cloud.ErrNotFound) || errors.Is(err, domain.ErrInvalidTask) {
		return domain.Error(err.Error())
	}
	return domain.Retry(err.Error())
}

// Apply drives the store from a result: OK and ERROR remove the record,
// RETRY spends one unit of the retry budget.
func (p *Pool) Apply(ctx context.Context, t domain.Task, res domain.Result) error {
	switch res.Outcome {
	case domain.OutcomeOK, domain.OutcomeError:
		return p.repo.Remove(ctx, t)
	case domain.OutcomeRetry:
		p.metrics.RetrySpent()
		return p.repo.DecrementRetry(ctx, &t)
	}
	return fmt.Errorf("%w: unknown outcome %q for %s", ErrInvariant, res.Outcome, t.Key)
}

type report struct {
	Key        string `json:"key"`
	Task       string `json:"task"`
	ResourceID string `json:"resourceId"`
	domain.Result
}

// Run executes t, applies the result and reports it on the normal channel.
func (p *Pool) Run(ctx context.Context, t domain.Task) (domain.Result, error) {
	start := time.Now()
	res, err := p.Execute(ctx, t)
	if err != nil {
		return domain.Result{}, err
	}
	p.metrics.RecordResult(string(t.Kind), string(res.Outcome), time.Since(start))

	ev := log.Info()
	if res.Outcome != domain.OutcomeOK {
		ev = log.Warn()
	}
	ev.Str("key", t.Key).
		Str("kind", string(t.Kind)).
		Str("resource_id", t.ResourceID).
		Str("outcome", string(res.Outcome)).
		Str("reason", res.Reason).
		Int("remaining_retry_count", t.RemainingRetryCount).
		Msg("task executed")

	if err := p.Apply(ctx, t, res); err != nil {
		return res, err
	}
	if err := p.notifier.Log(ctx, report{Key: t.Key, Task: string(t.Kind), ResourceID: t.ResourceID, Result: res}); err != nil {
		log.Warn().Err(err).Str("key", t.Key).Msg("result notification failed")
	}
	return res, nil
}

// Summary counts outcomes of one pass.
type Summary struct {
	OK     int `json:"ok"`
	Retry  int `json:"retry"`
	Error  int `json:"error"`
	Failed int `json:"failed"`
}

func (s *Summary) add(o domain.Outcome) {
	switch o {
	case domain.OutcomeOK:
		s.OK++
	case domain.OutcomeRetry:
		s.Retry++
	case domain.OutcomeError:
		s.Error++
	}
}

// RunDue executes every task due at asOf with at most size in flight. Store
// failures are counted and logged; an invariant violation cancels the pass
// and is returned.
func (p *Pool) RunDue(ctx context.Context, asOf time.Time) (Summary, error) {
	var sum Summary
	tasks, err := p.repo.Due(ctx, asOf)
	if err != nil {
		return sum, err
	}
	log.Info().Int("due", len(tasks)).Msg("processing due tasks")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		fatalErr error
		sem      = make(chan struct{}, p.size)
	)
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(tk domain.Task) {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := p.Run(ctx, tk)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrInvariant):
				if fatalErr == nil {
					fatalErr = err
				}
				cancel()
			case err != nil:
				sum.Failed++
				log.Error().Err(err).Str("key", tk.Key).Msg("task bookkeeping failed")
			default:
				sum.add(res.Outcome)
			}
		}(t)
	}
	wg.Wait()
	if fatalErr != nil {
		return sum, fatalErr
	}
	return sum, nil
}

// ProcessByKey runs a single stored task regardless of its scheduled time.
func (p *Pool) ProcessByKey(ctx context.Context, key string) (domain.Result, error) {
	t, err := p.repo.Get(ctx, key)
	if err != nil {
		return domain.Result{}, err
	}
	return p.Run(ctx, t)
}
