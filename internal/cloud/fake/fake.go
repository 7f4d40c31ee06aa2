// Package fake is an in-memory cloud.Provider that records mutating calls.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"instancescheduler/internal/cloud"
	"instancescheduler/internal/domain"
)

// Call is one recorded mutation.
type Call struct {
	Op string
	ID string
}

type Provider struct {
	mu        sync.Mutex
	instances map[string]cloud.Instance
	databases map[string]cloud.DBInstance
	images    map[string]cloud.Image
	tags      map[string][]domain.Tag
	calls     []Call
	seq       int

	// Errs forces an error for "Op:id" (for example "StartInstance:i-1").
	Errs map[string]error
}

func New() *Provider {
	return &Provider{
		instances: map[string]cloud.Instance{},
		databases: map[string]cloud.DBInstance{},
		images:    map[string]cloud.Image{},
		tags:      map[string][]domain.Tag{},
		Errs:      map[string]error{},
	}
}

func (p *Provider) AddInstance(i cloud.Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instances[i.ID] = i
}

func (p *Provider) AddDBInstance(d cloud.DBInstance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.databases[d.Identifier] = d
}

func (p *Provider) AddImage(img cloud.Image) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.images[img.ID] = img
}

// Fail makes the next and all later calls of op on id return err.
func (p *Provider) Fail(op, id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Errs[op+":"+id] = err
}

// Calls returns the recorded mutations in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Tags returns the tags applied to id through CreateTags.
func (p *Provider) Tags(id string) []domain.Tag {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Tag(nil), p.tags[id]...)
}

func (p *Provider) record(op, id string) error {
	if err, ok := p.Errs[op+":"+id]; ok {
		return err
	}
	p.calls = append(p.calls, Call{Op: op, ID: id})
	return nil
}

func (p *Provider) ListInstances(ctx context.Context) ([]cloud.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.Errs["ListInstances:"]; ok {
		return nil, err
	}
	out := make([]cloud.Instance, 0, len(p.instances))
	for _, i := range p.instances {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (p *Provider) Instance(ctx context.Context, id string) (*cloud.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.Errs["Instance:"+id]; ok {
		return nil, err
	}
	i, ok := p.instances[id]
	if !ok {
		return nil, nil
	}
	return &i, nil
}

func (p *Provider) StartInstance(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("StartInstance", id); err != nil {
		return err
	}
	i, ok := p.instances[id]
	if !ok {
		return cloud.ErrNotFound
	}
	i.State = domain.StatusRunning
	p.instances[id] = i
	return nil
}

func (p *Provider) StopInstance(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("StopInstance", id); err != nil {
		return err
	}
	i, ok := p.instances[id]
	if !ok {
		return cloud.ErrNotFound
	}
	i.State = domain.StatusStopped
	p.instances[id] = i
	return nil
}

func (p *Provider) ListImages(ctx context.Context) ([]cloud.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]cloud.Image, 0, len(p.images))
	for _, img := range p.images {
		out = append(out, img)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (p *Provider) CreateImage(ctx context.Context, in cloud.CreateImageInput) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("CreateImage", in.InstanceID); err != nil {
		return "", err
	}
	if _, ok := p.instances[in.InstanceID]; !ok {
		return "", cloud.ErrNotFound
	}
	p.seq++
	id := fmt.Sprintf("ami-%08d", p.seq)
	p.images[id] = cloud.Image{ID: id, Name: in.Name, Tags: map[string]string{}}
	return id, nil
}

func (p *Provider) DeregisterImage(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("DeregisterImage", id); err != nil {
		return err
	}
	delete(p.images, id)
	return nil
}

func (p *Provider) DeleteSnapshot(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record("DeleteSnapshot", id)
}

func (p *Provider) CreateTags(ctx context.Context, resourceID string, tags []domain.Tag) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("CreateTags", resourceID); err != nil {
		return err
	}
	p.tags[resourceID] = append(p.tags[resourceID], tags...)
	return nil
}

func (p *Provider) ListDBInstances(ctx context.Context) ([]cloud.DBInstance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]cloud.DBInstance, 0, len(p.databases))
	for _, d := range p.databases {
		out = append(out, d)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Identifier < out[b].Identifier })
	return out, nil
}

func (p *Provider) DBInstance(ctx context.Context, id string) (*cloud.DBInstance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.Errs["DBInstance:"+id]; ok {
		return nil, err
	}
	d, ok := p.databases[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (p *Provider) StartDBInstance(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("StartDBInstance", id); err != nil {
		return err
	}
	d := p.databases[id]
	d.Status = "starting"
	p.databases[id] = d
	return nil
}

func (p *Provider) StopDBInstance(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("StopDBInstance", id); err != nil {
		return err
	}
	d := p.databases[id]
	d.Status = "stopping"
	p.databases[id] = d
	return nil
}

var _ cloud.Provider = (*Provider)(nil)
