package generator

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
)

var jst = time.FixedZone("", 9*3600)

func at(h, m int) time.Time { return time.Date(2020, 10, 1, h, m, 0, 0, jst) }

func keys(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.DeriveKey()
	}
	return out
}

func TestComputeStartStop(t *testing.T) {
	instances := []cloud.Instance{
		{ID: "i-1", Tags: map[string]string{cloud.TagStartSchedule: "0 9 * * *", cloud.TagStopSchedule: "0 18 * * *"}},
		{ID: "i-2", Tags: map[string]string{cloud.TagStartSchedule: "not a schedule"}},
		{ID: "i-3"},
	}
	tasks := ComputeStartStop(instances, 24, at(8, 0))
	require.Len(t, tasks, 4)

	assert.Equal(t, domain.KindStartCompute, tasks[0].Kind)
	assert.Equal(t, "2020-10-01T09:00:00+09:00", tasks[0].ScheduledTime)
	assert.Equal(t, RetryComputeStartStop, tasks[0].RemainingRetryCount)
	assert.Empty(t, tasks[0].Key)

	check := tasks[1]
	assert.Equal(t, domain.KindStatusCheck, check.Kind)
	assert.Equal(t, "2020-10-01T09:10:00+09:00", check.ScheduledTime)
	assert.Equal(t, 0, check.RemainingRetryCount)
	assert.Equal(t, domain.StatusCheck{StatusIsNot: []domain.StatusCode{domain.StatusPending, domain.StatusStopped}}, check.Payload)

	assert.Equal(t, domain.KindStopCompute, tasks[2].Kind)
	assert.Equal(t, "2020-10-01T18:00:00+09:00", tasks[2].ScheduledTime)
	assert.Equal(t, domain.StatusCheck{StatusIsNot: []domain.StatusCode{domain.StatusRunning, domain.StatusStopping}}, tasks[3].Payload)

	for _, task := range tasks {
		assert.NoError(t, task.Validate())
	}
}

func TestGenerationIsIdempotent(t *testing.T) {
	instances := []cloud.Instance{
		{ID: "i-1", Tags: map[string]string{cloud.TagStartSchedule: "0,30 9 * * *", cloud.TagImageSchedule: "15 3 * * *"}},
	}
	first := append(ComputeStartStop(instances, 25, at(8, 0)), ImageRegistration(instances, false, 25, at(8, 0))...)
	second := append(ComputeStartStop(instances, 25, at(8, 0)), ImageRegistration(instances, false, 25, at(8, 0))...)
	assert.Equal(t, keys(first), keys(second))
}

func TestImageRegistration(t *testing.T) {
	instances := []cloud.Instance{{ID: "i-1", Tags: map[string]string{
		cloud.TagImageSchedule:           "0 3 * * *",
		cloud.TagImageScheduleWithReboot: "0 4 * * *",
	}}}

	plain := ImageRegistration(instances, false, 24, at(8, 0))
	require.Len(t, plain, 1)
	assert.Equal(t, "2020-10-02T03:00:00+09:00", plain[0].ScheduledTime)
	assert.Equal(t, domain.ImageRegistration{ForceReboot: false}, plain[0].Payload)
	assert.Equal(t, RetryRegisterImage, plain[0].RemainingRetryCount)

	reboot := ImageRegistration(instances, true, 24, at(8, 0))
	require.Len(t, reboot, 1)
	assert.Equal(t, "2020-10-02T04:00:00+09:00", reboot[0].ScheduledTime)
	assert.Equal(t, domain.ImageRegistration{ForceReboot: true}, reboot[0].Payload)
}

func TestDatabaseStartStopAcceptsPlaceholder(t *testing.T) {
	dbs := []cloud.DBInstance{{Identifier: "db-1", Tags: map[string]string{
		cloud.TagStartSchedule: "0 9 @ @ @",
		cloud.TagStopSchedule:  "0 21 * * 1",
	}}}
	tasks := DatabaseStartStop(dbs, 24, at(8, 0))
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.KindStartDatabase, tasks[0].Kind)
	assert.Equal(t, domain.ResourceDatabase, tasks[0].ResourceType)
	assert.Equal(t, "db-1", tasks[0].ResourceID)
	assert.NoError(t, tasks[0].Validate())
}

func image(id, owner, expires string) cloud.Image {
	return cloud.Image{ID: id, Tags: map[string]string{cloud.TagInstanceID: owner, cloud.TagExpiresAt: expires}, SnapshotIDs: []string{"snap-" + id}}
}

func ids(images []cloud.Image) []string {
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = img.ID
	}
	return out
}

func TestExpiredImagesKeepsLastImage(t *testing.T) {
	today := at(12, 0)
	allExpired := []cloud.Image{
		image("ami-1", "i-1", "2020-09-28T03:00:00+09:00"),
		image("ami-2", "i-1", "2020-09-29T03:00:00+09:00"),
		image("ami-3", "i-1", "2020-09-30T03:00:00+09:00"),
	}
	assert.Empty(t, ExpiredImages(allExpired, today))

	oneFresh := append(allExpired[:2:2], image("ami-3", "i-1", "2020-10-05T03:00:00+09:00"))
	assert.Equal(t, []string{"ami-1", "ami-2"}, ids(ExpiredImages(oneFresh, today)))
}

func TestExpiredImagesDayGranularity(t *testing.T) {
	today := at(23, 59)
	images := []cloud.Image{
		image("ami-1", "i-1", "2020-10-01T00:00:00+09:00"),
		image("ami-2", "i-1", "2020-09-30T23:59:00+09:00"),
		image("ami-3", "i-1", "garbage"),
		image("ami-4", "i-1", ""),
		image("ami-5", "", "2020-09-01"),
	}
	assert.Equal(t, []string{"ami-2", "ami-5"}, ids(ExpiredImages(images, today)))
}

func TestImageDeregistrationJitter(t *testing.T) {
	images := []cloud.Image{
		image("ami-1", "i-1", "2020-09-01"),
		image("ami-2", "i-1", "2020-09-02"),
		image("ami-3", "i-1", "2020-12-01"),
	}
	delays := []time.Duration{300 * time.Second, 1499 * time.Second}
	n := 0
	jitter := func() time.Duration { d := delays[n]; n++; return d }

	tasks := ImageDeregistration(images, at(8, 0), jitter)
	require.Len(t, tasks, 2)
	assert.Equal(t, "2020-10-01T08:05:00+09:00", tasks[0].ScheduledTime)
	assert.Equal(t, "2020-10-01T08:24:59+09:00", tasks[1].ScheduledTime)
	assert.Equal(t, domain.ImageDeregistration{SnapshotIDs: []string{"snap-ami-1"}}, tasks[0].Payload)
	assert.Equal(t, RetryDeregisterImage, tasks[0].RemainingRetryCount)
}

func TestRandomJitterWindow(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := RandomJitter()
		assert.GreaterOrEqual(t, d, JitterMin)
		assert.Less(t, d, JitterMax)
	}
}

func TestImageTagFollowUp(t *testing.T) {
	n := ImageNaming{RetentionDays: 7}
	inst := cloud.Instance{ID: "i-1", Tags: map[string]string{cloud.TagName: "web server"}}
	task := n.ImageTagFollowUp(inst, "ami-9", at(3, 0))

	assert.Equal(t, domain.KindAddImageTag, task.Kind)
	assert.Equal(t, "ami-9", task.ResourceID)
	assert.Equal(t, "2020-10-01T03:05:00+09:00", task.ScheduledTime)
	assert.Equal(t, domain.ImageTags{Tags: []domain.Tag{
		{Key: "InstanceId", Value: "i-1"},
		{Key: "ExpiresAt", Value: "2020-10-08T03:00:00+09:00"},
		{Key: "Name", Value: "AutoGeneratedAMI_web_server_20201001_0300_i-1"},
		{Key: "ImageType", Value: "AutomatedSnapshot"},
	}}, task.Payload)
	assert.NoError(t, task.Validate())

	inst.Tags[cloud.TagImageRetentionDays] = "2"
	assert.Equal(t, 2, n.Retention(inst))
	inst.Tags[cloud.TagImageRetentionDays] = "-1"
	assert.Equal(t, 7, n.Retention(inst))
}

func TestGeneratorGenerate(t *testing.T) {
	p := fake.New()
	p.AddInstance(cloud.Instance{ID: "i-1", Tags: map[string]string{
		cloud.TagStartSchedule: "0 9 * * *",
		cloud.TagImageSchedule: "0 3 * * *",
	}})
	p.AddDBInstance(cloud.DBInstance{Identifier: "db-1", Tags: map[string]string{cloud.TagStopSchedule: "0 22 @ @ @"}})
	p.AddImage(image("ami-1", "i-1", "2020-09-01"))
	p.AddImage(image("ami-2", "i-1", "2020-12-01"))

	g := New(p, Options{Location: jst, Jitter: func() time.Duration { return JitterMin }})
	tasks, err := g.Generate(context.Background(), time.Date(2020, 9, 30, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"StartEC2_i-1_2020-10-01T09:00:00+09:00",
		"EC2StatusCheck_i-1_2020-10-01T09:10:00+09:00",
		"RegisterAmi_i-1_2020-10-02T03:00:00+09:00",
		"StopRDS_db-1_2020-10-01T22:00:00+09:00",
		"DeregisterAmi_ami-1_2020-10-01T08:05:00+09:00",
	}, keys(tasks))
}

func TestGeneratorPropagatesListFailure(t *testing.T) {
	p := fake.New()
	p.Fail("ListInstances", "", errors.New("throttled"))
	_, err := New(p, Options{}).Generate(context.Background(), at(8, 0))
	assert.Error(t, err)
}
