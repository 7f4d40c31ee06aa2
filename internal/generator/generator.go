// Package generator turns resource schedule tags into task records.
//
// The functions in this file are pure: they take a resource snapshot, a
// lookahead window and a reference instant and return tasks with empty keys.
// Generator in fetch.go is the boundary that lists resources.
package generator

import (
	"time"

	"github.com/rs/zerolog/log"

	"instancescheduler/internal/cloud"
	"instancescheduler/internal/domain"
	"instancescheduler/internal/scheduler"
)

// Retry budgets per kind.
const (
	RetryComputeStartStop  = 2
	RetryDatabaseStartStop = 2
	RetryRegisterImage     = 1
	RetryDeregisterImage   = 1
	RetryAddImageTag       = 2
	RetryStatusCheck       = 0
)

// Follow-up offsets.
const (
	StatusCheckDelay = 10 * time.Minute
	ImageTagDelay    = 5 * time.Minute
)

// Deregistration jitter window.
const (
	JitterMin = 300 * time.Second
	JitterMax = 1500 * time.Second
)

// occurrences evaluates the schedule stored under tag. A missing or invalid
// expression contributes nothing.
func occurrences(tags map[string]string, tag, resourceID string, hours int, ref time.Time) []time.Time {
	expr, ok := tags[tag]
	if !ok || expr == "" {
		return nil
	}
	if !scheduler.Validate(expr) {
		log.Debug().Str("resource_id", resourceID).Str("tag", tag).Str("expr", expr).Msg("ignoring invalid schedule")
		return nil
	}
	return scheduler.Occurrences(expr, hours, ref)
}

func newTask(kind domain.Kind, id string, at time.Time, retries int, p domain.Payload) domain.Task {
	return domain.Task{
		Kind:                kind,
		ResourceType:        kind.ResourceType(),
		ResourceID:          id,
		ScheduledTime:       domain.FormatTime(at),
		RemainingRetryCount: retries,
		Payload:             p,
	}
}

// ComputeStartStop emits start and stop tasks for every instance plus a
// status check ten minutes after each of them.
func ComputeStartStop(instances []cloud.Instance, hours int, ref time.Time) []domain.Task {
	var out []domain.Task
	for _, inst := range instances {
		for _, at := range occurrences(inst.Tags, cloud.TagStartSchedule, inst.ID, hours, ref) {
			out = append(out,
				newTask(domain.KindStartCompute, inst.ID, at, RetryComputeStartStop, domain.ComputeAction{}),
				StatusCheckAfter(domain.KindStartCompute, inst.ID, at))
		}
		for _, at := range occurrences(inst.Tags, cloud.TagStopSchedule, inst.ID, hours, ref) {
			out = append(out,
				newTask(domain.KindStopCompute, inst.ID, at, RetryComputeStartStop, domain.ComputeAction{}),
				StatusCheckAfter(domain.KindStopCompute, inst.ID, at))
		}
	}
	return out
}

// StatusCheckAfter builds the verification task for a start or stop at `at`.
// The disallowed statuses are the ones that mean the action did not land.
func StatusCheckAfter(action domain.Kind, id string, at time.Time) domain.Task {
	var bad []domain.StatusCode
	switch action {
	case domain.KindStartCompute:
		bad = []domain.StatusCode{domain.StatusPending, domain.StatusStopped}
	case domain.KindStopCompute:
		bad = []domain.StatusCode{domain.StatusRunning, domain.StatusStopping}
	}
	return newTask(domain.KindStatusCheck, id, at.Add(StatusCheckDelay), RetryStatusCheck, domain.StatusCheck{StatusIsNot: bad})
}

// ImageRegistration emits RegisterImage tasks from AmiSchedule, or from
// AmiSchedule_ForceToReboot when forceReboot is set.
func ImageRegistration(instances []cloud.Instance, forceReboot bool, hours int, ref time.Time) []domain.Task {
	tag := cloud.TagImageSchedule
	if forceReboot {
		tag = cloud.TagImageScheduleWithReboot
	}
	var out []domain.Task
	for _, inst := range instances {
		for _, at := range occurrences(inst.Tags, tag, inst.ID, hours, ref) {
			out = append(out, newTask(domain.KindRegisterImage, inst.ID, at, RetryRegisterImage,
				domain.ImageRegistration{ForceReboot: forceReboot}))
		}
	}
	return out
}

// DatabaseStartStop emits start and stop tasks for database instances. Their
// tags cannot hold "*", so schedules use "@" which the evaluator accepts.
func DatabaseStartStop(dbs []cloud.DBInstance, hours int, ref time.Time) []domain.Task {
	var out []domain.Task
	for _, db := range dbs {
		for _, at := range occurrences(db.Tags, cloud.TagStartSchedule, db.Identifier, hours, ref) {
			out = append(out, newTask(domain.KindStartDatabase, db.Identifier, at, RetryDatabaseStartStop, domain.DatabaseAction{}))
		}
		for _, at := range occurrences(db.Tags, cloud.TagStopSchedule, db.Identifier, hours, ref) {
			out = append(out, newTask(domain.KindStopDatabase, db.Identifier, at, RetryDatabaseStartStop, domain.DatabaseAction{}))
		}
	}
	return out
}

// ParseExpiry reads an ExpiresAt tag value. Both full timestamps and plain
// dates are accepted.
func ParseExpiry(v string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsExpired reports whether the expiry day is strictly before today's date,
// both taken in today's location.
func IsExpired(expiresAt, today time.Time) bool {
	ey, em, ed := expiresAt.In(today.Location()).Date()
	ty, tm, td := today.Date()
	return time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC).Before(time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC))
}

// ExpiredImages selects images to delete. Images with a missing or
// unparseable ExpiresAt never expire. When every image of an instance is
// expired, none of them is selected so the instance keeps a backup.
func ExpiredImages(images []cloud.Image, today time.Time) []cloud.Image {
	total := map[string]int{}
	var expired []cloud.Image
	for _, img := range images {
		total[img.Tags[cloud.TagInstanceID]]++
		at, ok := ParseExpiry(img.Tags[cloud.TagExpiresAt])
		if ok && IsExpired(at, today) {
			expired = append(expired, img)
		}
	}
	expiredPer := map[string]int{}
	for _, img := range expired {
		expiredPer[img.Tags[cloud.TagInstanceID]]++
	}

	out := make([]cloud.Image, 0, len(expired))
	for _, img := range expired {
		owner := img.Tags[cloud.TagInstanceID]
		if owner != "" && expiredPer[owner] == total[owner] {
			log.Info().Str("image_id", img.ID).Str("instance_id", owner).Msg("keeping last image of instance")
			continue
		}
		out = append(out, img)
	}
	return out
}

// ImageDeregistration emits a deregistration for every expired image, each
// delayed from now by its own jitter.
func ImageDeregistration(images []cloud.Image, now time.Time, jitter func() time.Duration) []domain.Task {
	expired := ExpiredImages(images, now)
	out := make([]domain.Task, 0, len(expired))
	for _, img := range expired {
		at := now.Add(jitter()).Truncate(time.Second)
		out = append(out, newTask(domain.KindDeregisterImage, img.ID, at, RetryDeregisterImage,
			domain.ImageDeregistration{SnapshotIDs: append([]string{}, img.SnapshotIDs...)}))
	}
	return out
}
