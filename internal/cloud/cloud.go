// Package cloud defines the resource operations the scheduler depends on.
// Implementations live in subpackages: aws for the real provider and fake
// for tests and dry local runs.
package cloud

import (
	"context"
	"errors"
	"strings"

	"instancescheduler/internal/domain"
)

var (
	// ErrNotFound means the target resource does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrTimeout means a state change was accepted but did not settle in time.
	ErrTimeout = errors.New("state change timed out")
	// ErrRejected means the provider refused the operation.
	ErrRejected = errors.New("operation rejected")
)

// Database states that mean "up" and "down".
const (
	DatabaseAvailable = "available"
	DatabaseStopped   = "stopped"
)

type Instance struct {
	ID        string
	State     domain.StatusCode
	Tags      map[string]string
	IPAddress string
}

// Name returns the Name tag.
func (i Instance) Name() string { return i.Tags["Name"] }

type DBInstance struct {
	Identifier string
	Status     string
	Tags       map[string]string
}

type Image struct {
	ID          string
	Name        string
	Tags        map[string]string
	SnapshotIDs []string
}

type CreateImageInput struct {
	InstanceID  string
	Name        string
	Description string
	NoReboot    bool
}

// Compute is the instance side of the provider. Instance returns (nil, nil)
// when the instance does not exist.
type Compute interface {
	ListInstances(ctx context.Context) ([]Instance, error)
	Instance(ctx context.Context, id string) (*Instance, error)
	StartInstance(ctx context.Context, id string) error
	StopInstance(ctx context.Context, id string) error
}

type Images interface {
	ListImages(ctx context.Context) ([]Image, error)
	CreateImage(ctx context.Context, in CreateImageInput) (string, error)
	DeregisterImage(ctx context.Context, id string) error
	DeleteSnapshot(ctx context.Context, id string) error
	CreateTags(ctx context.Context, resourceID string, tags []domain.Tag) error
}

// Databases returns (nil, nil) from DBInstance for an unknown identifier.
type Databases interface {
	ListDBInstances(ctx context.Context) ([]DBInstance, error)
	DBInstance(ctx context.Context, id string) (*DBInstance, error)
	StartDBInstance(ctx context.Context, id string) error
	StopDBInstance(ctx context.Context, id string) error
}

// Provider bundles every capability.
type Provider interface {
	Compute
	Images
	Databases
}

// IsTrue reads boolean-ish tag values such as AlwaysRunning.
func IsTrue(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}
