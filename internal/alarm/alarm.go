// Package alarm reports instances tagged AlwaysRunning that are down while
// their schedule says they should be up.
package alarm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"instancescheduler/internal/cloud"
	"instancescheduler/internal/domain"
	"instancescheduler/internal/metrics"
	"instancescheduler/internal/notify"
	"instancescheduler/internal/scheduler"
)

const DefaultLeadTime = 5 * time.Minute

const header = "Instances tagged AlwaysRunning are not running"

type Options struct {
	// LeadTime shifts the expected-state evaluation forward so an instance
	// that is about to be stopped on schedule is not reported.
	LeadTime time.Duration
	Location *time.Location
}

type Checker struct {
	compute  cloud.Compute
	notifier notify.Notifier
	metrics  *metrics.Metrics
	opts     Options
}

func New(c cloud.Compute, n notify.Notifier, m *metrics.Metrics, opts Options) *Checker {
	if opts.LeadTime <= 0 {
		opts.LeadTime = DefaultLeadTime
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Checker{compute: c, notifier: n, metrics: m, opts: opts}
}

// Find returns the instances in violation at now.
func (c *Checker) Find(instances []cloud.Instance, now time.Time) []cloud.Instance {
	at := now.In(c.opts.Location).Add(c.opts.LeadTime)
	var out []cloud.Instance
	for _, inst := range instances {
		if !cloud.IsTrue(inst.Tags[cloud.TagAlwaysRunning]) {
			continue
		}
		if inst.State == domain.StatusRunning || inst.State == domain.StatusPending {
			continue
		}
		if !scheduler.ShouldBeRunning(inst.Tags[cloud.TagStartSchedule], inst.Tags[cloud.TagStopSchedule], at) {
			continue
		}
		out = append(out, inst)
	}
	return out
}

// Message renders one line per instance under a fixed header.
func Message(instances []cloud.Instance) string {
	lines := make([]string, 0, len(instances)+1)
	lines = append(lines, header)
	for _, inst := range instances {
		lines = append(lines, fmt.Sprintf("* ID: %s Name: %s IpAddress: %s", inst.ID, inst.Name(), inst.IPAddress))
	}
	return strings.Join(lines, "\n")
}

// Run lists instances and posts one error-channel message when any is found.
func (c *Checker) Run(ctx context.Context, now time.Time) ([]cloud.Instance, error) {
	instances, err := c.compute.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	found := c.Find(instances, now)
	c.metrics.SetAlarmFlagged(len(found))
	if len(found) == 0 {
		log.Debug().Int("instances", len(instances)).Msg("always-running check passed")
		return nil, nil
	}
	log.Warn().Int("count", len(found)).Msg("always-running instances are down")
	if err := c.notifier.Error(ctx, Message(found)); err != nil {
		return found, err
	}
	return found, nil
}
