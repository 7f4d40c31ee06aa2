package generator

import (
	"strconv"
	"strings"
	"time"

	"instancescheduler/internal/cloud"
	"instancescheduler/internal/domain"
)

const DefaultImageNamePrefix = "AutoGeneratedAMI_"

// ImageNaming derives names and lifetimes of automated images.
type ImageNaming struct {
	Prefix        string
	RetentionDays int
}

// Name returns <prefix><instance name>_<yyyymmdd_hhmm>_<instance id>.
func (n ImageNaming) Name(inst cloud.Instance, now time.Time) string {
	prefix := n.Prefix
	if prefix == "" {
		prefix = DefaultImageNamePrefix
	}
	name := strings.ReplaceAll(inst.Name(), " ", "_")
	return prefix + name + "_" + now.Format("20060102_1504") + "_" + inst.ID
}

// Retention is the instance's AmiRetentionDays tag when it holds a positive
// integer, the configured default otherwise.
func (n ImageNaming) Retention(inst cloud.Instance) int {
	if v, err := strconv.Atoi(strings.TrimSpace(inst.Tags[cloud.TagImageRetentionDays])); err == nil && v > 0 {
		return v
	}
	return n.RetentionDays
}

func (n ImageNaming) ExpiresAt(inst cloud.Instance, now time.Time) time.Time {
	return now.AddDate(0, 0, n.Retention(inst))
}

// ImageTagFollowUp builds the AddImageTag task that labels a freshly
// registered image five minutes after registration.
func (n ImageNaming) ImageTagFollowUp(inst cloud.Instance, imageID string, now time.Time) domain.Task {
	tags := []domain.Tag{
		{Key: cloud.TagInstanceID, Value: inst.ID},
		{Key: cloud.TagExpiresAt, Value: domain.FormatTime(n.ExpiresAt(inst, now))},
		{Key: cloud.TagName, Value: n.Name(inst, now)},
		{Key: cloud.TagImageType, Value: cloud.ImageTypeAutomated},
	}
	at := now.Add(ImageTagDelay).Truncate(time.Second)
	return newTask(domain.KindAddImageTag, imageID, at, RetryAddImageTag, domain.ImageTags{Tags: tags})
}
