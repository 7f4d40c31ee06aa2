package image

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instancescheduler/internal/cloud"
	"instancescheduler/internal/cloud/fake"
	"instancescheduler/internal/domain"
	"instancescheduler/internal/generator"
)

type writer struct {
	tasks []domain.Task
	err   error
}

func (w *writer) Put(ctx context.Context, t *domain.Task) error {
	if w.err != nil {
		return w.err
	}
	w.tasks = append(w.tasks, *t)
	return nil
}

var now = time.Date(2020, 10, 1, 3, 0, 0, 0, time.FixedZone("", 9*3600))

func newHandler(p *fake.Provider, w *writer, dryRun bool) *Handler {
	return New(p, p, w, Options{
		Naming: generator.ImageNaming{RetentionDays: 3},
		DryRun: dryRun,
		Now:    func() time.Time { return now },
	})
}

func registerTask(id string, reboot bool) domain.Task {
	return domain.Task{Kind: domain.KindRegisterImage, ResourceType: domain.ResourceCompute, ResourceID: id,
		ScheduledTime: "2020-10-01T03:00:00+09:00", RemainingRetryCount: 1, Payload: domain.ImageRegistration{ForceReboot: reboot}}
}

func TestRegisterQueuesTagTask(t *testing.T) {
	p := fake.New()
	p.AddInstance(cloud.Instance{ID: "i-1", Tags: map[string]string{"Name": "web"}})
	w := &writer{}

	res, err := newHandler(p, w, false).Handle(context.Background(), registerTask("i-1", true))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeOK, res.Outcome)
	assert.Equal(t, []fake.Call{{Op: "CreateImage", ID: "i-1"}}, p.Calls())

	require.Len(t, w.tasks, 1)
	follow := w.tasks[0]
	assert.Equal(t, domain.KindAddImageTag, follow.Kind)
	assert.Equal(t, "ami-00000001", follow.ResourceID)
	assert.Equal(t, "2020-10-01T03:05:00+09:00", follow.ScheduledTime)

	images, err := p.ListImages(context.Background())
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "AutoGeneratedAMI_web_20201001_0300_i-1", images[0].Name)
}

func TestRegisterMissingInstance(t *testing.T) {
	res, err := newHandler(fake.New(), &writer{}, false).Handle(context.Background(), registerTask("i-gone", false))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeError, res.Outcome)
}

func TestRegisterFailureIsReturned(t *testing.T) {
	p := fake.New()
	p.AddInstance(cloud.Instance{ID: "i-1"})
	p.Fail("CreateImage", "i-1", errors.New("limit exceeded"))
	_, err := newHandler(p, &writer{}, false).Handle(context.Background(), registerTask("i-1", false))
	assert.Error(t, err)
}

func TestRegisterKeepsImageWhenTagTaskFails(t *testing.T) {
	p := fake.New()
	p.AddInstance(cloud.Instance{ID: "i-1"})
	res, err := newHandler(p, &writer{err: errors.New("disk full")}, false).Handle(context.Background(), registerTask("i-1", false))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeOK, res.Outcome)
	assert.Contains(t, res.Reason, "tag task not stored")
}

func deregisterTask() domain.Task {
	return domain.Task{Kind: domain.KindDeregisterImage, ResourceType: domain.ResourceImage, ResourceID: "ami-1",
		ScheduledTime: "2020-10-01T03:00:00+09:00", Payload: domain.ImageDeregistration{SnapshotIDs: []string{"snap-1", "snap-2"}}}
}

func TestDeregisterDeletesSnapshots(t *testing.T) {
	p := fake.New()
	p.AddImage(cloud.Image{ID: "ami-1"})
	res, err := newHandler(p, &writer{}, false).Handle(context.Background(), deregisterTask())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeOK, res.Outcome)
	assert.Equal(t, []fake.Call{
		{Op: "DeregisterImage", ID: "ami-1"},
		{Op: "DeleteSnapshot", ID: "snap-1"},
		{Op: "DeleteSnapshot", ID: "snap-2"},
	}, p.Calls())
}

func TestDeregisterFailureStillDeletesSnapshots(t *testing.T) {
	p := fake.New()
	p.Fail("DeregisterImage", "ami-1", errors.New("in use"))
	res, err := newHandler(p, &writer{}, false).Handle(context.Background(), deregisterTask())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRetry, res.Outcome)
	assert.Equal(t, []fake.Call{{Op: "DeleteSnapshot", ID: "snap-1"}, {Op: "DeleteSnapshot", ID: "snap-2"}}, p.Calls())
}

func TestDeregisterSnapshotFailureRetries(t *testing.T) {
	p := fake.New()
	p.Fail("DeleteSnapshot", "snap-2", errors.New("in use"))
	res, err := newHandler(p, &writer{}, false).Handle(context.Background(), deregisterTask())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRetry, res.Outcome)
}

func TestTagging(t *testing.T) {
	p := fake.New()
	tags := []domain.Tag{{Key: "ImageType", Value: "AutomatedSnapshot"}}
	task := domain.Task{Kind: domain.KindAddImageTag, ResourceType: domain.ResourceImage, ResourceID: "ami-1",
		ScheduledTime: "2020-10-01T03:05:00+09:00", Payload: domain.ImageTags{Tags: tags}}

	res, err := newHandler(p, &writer{}, false).Handle(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeOK, res.Outcome)
	assert.Equal(t, tags, p.Tags("ami-1"))

	p.Fail("CreateTags", "ami-1", cloud.ErrNotFound)
	res, err = newHandler(p, &writer{}, false).Handle(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRetry, res.Outcome)
}

func TestImageDryRun(t *testing.T) {
	p := fake.New()
	p.AddInstance(cloud.Instance{ID: "i-1"})
	w := &writer{}
	h := newHandler(p, w, true)
	for _, task := range []domain.Task{registerTask("i-1", false), deregisterTask()} {
		res, err := h.Handle(context.Background(), task)
		require.NoError(t, err)
		assert.Equal(t, domain.OK("dry run"), res)
	}
	assert.Empty(t, p.Calls())
	assert.Empty(t, w.tasks)
}
