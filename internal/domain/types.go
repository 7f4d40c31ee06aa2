package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the offset-aware layout of scheduledTime and lastModified.
// The offset is always numeric so UTC renders as +00:00.
const TimeLayout = "2006-01-02T15:04:05-07:00"

type Kind string

const (
	KindStartCompute    Kind = "StartEC2"
	KindStopCompute     Kind = "StopEC2"
	KindRegisterImage   Kind = "RegisterAmi"
	KindDeregisterImage Kind = "DeregisterAmi"
	KindAddImageTag     Kind = "AddAmiTag"
	KindStartDatabase   Kind = "StartRDS"
	KindStopDatabase    Kind = "StopRDS"
	KindStatusCheck     Kind = "EC2StatusCheck"
)

// Kinds lists every task kind the dispatcher must handle.
var Kinds = []Kind{
	KindStartCompute, KindStopCompute, KindRegisterImage, KindDeregisterImage,
	KindAddImageTag, KindStartDatabase, KindStopDatabase, KindStatusCheck,
}

type ResourceType string

const (
	ResourceCompute  ResourceType = "EC2"
	ResourceImage    ResourceType = "AMI"
	ResourceDatabase ResourceType = "RDS"
)

// ResourceType returns the only resource type a task of kind k may target.
func (k Kind) ResourceType() ResourceType {
	switch k {
	case KindStartCompute, KindStopCompute, KindRegisterImage, KindStatusCheck:
		return ResourceCompute
	case KindDeregisterImage, KindAddImageTag:
		return ResourceImage
	case KindStartDatabase, KindStopDatabase:
		return ResourceDatabase
	}
	return ""
}

// StatusCode is the numeric compute instance state.
type StatusCode int

const (
	StatusPending      StatusCode = 0
	StatusRunning      StatusCode = 16
	StatusShuttingDown StatusCode = 32
	StatusTerminated   StatusCode = 48
	StatusStopping     StatusCode = 64
	StatusStopped      StatusCode = 80
)

func (s StatusCode) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusShuttingDown:
		return "shutting-down"
	case StatusTerminated:
		return "terminated"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

type Tag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// Task is a persisted unit of scheduled work. Key, TTL and LastModified are
// owned by the store: values supplied by callers are overwritten on Put.
type Task struct {
	Key                 string
	Kind                Kind
	ResourceType        ResourceType
	ResourceID          string
	ScheduledTime       string
	RemainingRetryCount int
	TTL                 int64 // unix seconds
	LastModified        string
	Payload             Payload
}

// Payload carries the kind-specific part of a task.
type Payload interface {
	accepts(k Kind) bool
}

// ComputeAction is the payload of StartCompute and StopCompute.
type ComputeAction struct{}

// ImageRegistration is the payload of RegisterImage.
type ImageRegistration struct {
	ForceReboot bool `json:"ec2ForceToReboot"`
}

// ImageTags is the payload of AddImageTag.
type ImageTags struct {
	Tags []Tag `json:"tags"`
}

// ImageDeregistration is the payload of DeregisterImage.
type ImageDeregistration struct {
	SnapshotIDs []string `json:"snapshotIds"`
}

// DatabaseAction is the payload of StartDatabase and StopDatabase.
type DatabaseAction struct{}

// StatusCheck lists the statuses that mean the preceding action did not take effect.
type StatusCheck struct {
	StatusIsNot []StatusCode `json:"statusIsNot"`
}

func (ComputeAction) accepts(k Kind) bool     { return k == KindStartCompute || k == KindStopCompute }
func (ImageRegistration) accepts(k Kind) bool { return k == KindRegisterImage }
func (ImageTags) accepts(k Kind) bool         { return k == KindAddImageTag }
func (ImageDeregistration) accepts(k Kind) bool {
	return k == KindDeregisterImage
}
func (DatabaseAction) accepts(k Kind) bool { return k == KindStartDatabase || k == KindStopDatabase }
func (StatusCheck) accepts(k Kind) bool    { return k == KindStatusCheck }

var ErrInvalidTask = errors.New("invalid task")

// Validate checks that kind, resource type, resource id and payload agree.
func (t Task) Validate() error {
	want := t.Kind.ResourceType()
	if want == "" {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTask, t.Kind)
	}
	if t.ResourceType != want {
		return fmt.Errorf("%w: kind %s requires resource type %s, got %q", ErrInvalidTask, t.Kind, want, t.ResourceType)
	}
	if t.ResourceID == "" {
		return fmt.Errorf("%w: empty resource id", ErrInvalidTask)
	}
	switch want {
	case ResourceCompute:
		if !strings.HasPrefix(t.ResourceID, "i-") {
			return fmt.Errorf("%w: compute id %q must start with i-", ErrInvalidTask, t.ResourceID)
		}
	case ResourceImage:
		if !strings.HasPrefix(t.ResourceID, "ami-") {
			return fmt.Errorf("%w: image id %q must start with ami-", ErrInvalidTask, t.ResourceID)
		}
	}
	if t.RemainingRetryCount < 0 {
		return fmt.Errorf("%w: negative retry count", ErrInvalidTask)
	}
	if t.Payload == nil || !t.Payload.accepts(t.Kind) {
		return fmt.Errorf("%w: payload %T does not match kind %s", ErrInvalidTask, t.Payload, t.Kind)
	}
	return nil
}

// DeriveKey builds the idempotent identity of a task.
func (t Task) DeriveKey() string {
	return strings.Join([]string{string(t.Kind), t.ResourceID, t.ScheduledTime}, "_")
}

// ScheduledAt parses ScheduledTime.
func (t Task) ScheduledAt() (time.Time, error) {
	return time.Parse(time.RFC3339, t.ScheduledTime)
}

// FormatTime renders ts in the task timestamp layout using its own location.
func FormatTime(ts time.Time) string {
	return ts.Format(TimeLayout)
}
