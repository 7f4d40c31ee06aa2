// Package awsprovider implements cloud.Provider on EC2 and RDS.
package awsprovider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"instancescheduler/internal/cloud"
	"instancescheduler/internal/domain"
)

type Options struct {
	Region          string
	AccountNo       string
	ImageNamePrefix string
	WaitTimeout     time.Duration
}

type Provider struct {
	ec2  *ec2.Client
	rds  *rds.Client
	opts Options
}

func New(ctx context.Context, opts Options) (*Provider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 5 * time.Minute
	}
	return &Provider{ec2: ec2.NewFromConfig(cfg), rds: rds.NewFromConfig(cfg), opts: opts}, nil
}

func isNotFound(err error) bool {
	var nf *rdstypes.DBInstanceNotFoundFault
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return strings.HasSuffix(code, ".NotFound") || strings.HasSuffix(code, ".Malformed") || code == "DBInstanceNotFound"
	}
	return false
}

// classify maps an API failure onto the cloud sentinel errors.
func classify(op, id string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s %s: %w: %v", op, id, cloud.ErrNotFound, err)
	}
	return fmt.Errorf("%s %s: %w: %v", op, id, cloud.ErrRejected, err)
}

func tagMap(tags []ec2types.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return m
}

func toInstance(i ec2types.Instance) cloud.Instance {
	out := cloud.Instance{
		ID:        aws.ToString(i.InstanceId),
		Tags:      tagMap(i.Tags),
		IPAddress: aws.ToString(i.PrivateIpAddress),
	}
	if i.State != nil && i.State.Code != nil {
		// the high byte is reserved for internal use
		out.State = domain.StatusCode(*i.State.Code & 0xff)
	}
	return out
}

func (p *Provider) ListInstances(ctx context.Context) ([]cloud.Instance, error) {
	var out []cloud.Instance
	pager := ec2.NewDescribeInstancesPaginator(p.ec2, &ec2.DescribeInstancesInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}
		for _, r := range page.Reservations {
			for _, i := range r.Instances {
				out = append(out, toInstance(i))
			}
		}
	}
	return out, nil
}

func (p *Provider) Instance(ctx context.Context, id string) (*cloud.Instance, error) {
	res, err := p.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("describe instance %s: %w", id, err)
	}
	for _, r := range res.Reservations {
		for _, i := range r.Instances {
			inst := toInstance(i)
			return &inst, nil
		}
	}
	return nil, nil
}

func (p *Provider) StartInstance(ctx context.Context, id string) error {
	if _, err := p.ec2.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{id}}); err != nil {
		return classify("start instance", id, err)
	}
	log.Info().Str("resource_id", id).Dur("timeout", p.opts.WaitTimeout).Msg("waiting for instance to run")
	w := ec2.NewInstanceRunningWaiter(p.ec2)
	if err := w.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}}, p.opts.WaitTimeout); err != nil {
		return fmt.Errorf("start instance %s: %w: %v", id, cloud.ErrTimeout, err)
	}
	return nil
}

func (p *Provider) StopInstance(ctx context.Context, id string) error {
	if _, err := p.ec2.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{id}}); err != nil {
		return classify("stop instance", id, err)
	}
	log.Info().Str("resource_id", id).Dur("timeout", p.opts.WaitTimeout).Msg("waiting for instance to stop")
	w := ec2.NewInstanceStoppedWaiter(p.ec2)
	if err := w.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}}, p.opts.WaitTimeout); err != nil {
		return fmt.Errorf("stop instance %s: %w: %v", id, cloud.ErrTimeout, err)
	}
	return nil
}

// ListImages returns images owned by the account whose name carries the
// configured prefix.
func (p *Provider) ListImages(ctx context.Context) ([]cloud.Image, error) {
	res, err := p.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners: []string{p.opts.AccountNo},
		Filters: []ec2types.Filter{
			{Name: aws.String("name"), Values: []string{p.opts.ImageNamePrefix + "*"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("describe images: %w", err)
	}
	out := make([]cloud.Image, 0, len(res.Images))
	for _, img := range res.Images {
		var snaps []string
		for _, m := range img.BlockDeviceMappings {
			if m.Ebs != nil && m.Ebs.SnapshotId != nil {
				snaps = append(snaps, *m.Ebs.SnapshotId)
			}
		}
		out = append(out, cloud.Image{
			ID:          aws.ToString(img.ImageId),
			Name:        aws.ToString(img.Name),
			Tags:        tagMap(img.Tags),
			SnapshotIDs: snaps,
		})
	}
	return out, nil
}

func (p *Provider) CreateImage(ctx context.Context, in cloud.CreateImageInput) (string, error) {
	res, err := p.ec2.CreateImage(ctx, &ec2.CreateImageInput{
		InstanceId:  aws.String(in.InstanceID),
		Name:        aws.String(in.Name),
		Description: aws.String(in.Description),
		NoReboot:    aws.Bool(in.NoReboot),
	})
	if err != nil {
		return "", classify("create image", in.InstanceID, err)
	}
	return aws.ToString(res.ImageId), nil
}

func (p *Provider) DeregisterImage(ctx context.Context, id string) error {
	if _, err := p.ec2.DeregisterImage(ctx, &ec2.DeregisterImageInput{ImageId: aws.String(id)}); err != nil {
		return classify("deregister image", id, err)
	}
	return nil
}

func (p *Provider) DeleteSnapshot(ctx context.Context, id string) error {
	if _, err := p.ec2.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{SnapshotId: aws.String(id)}); err != nil {
		return classify("delete snapshot", id, err)
	}
	return nil
}

func (p *Provider) CreateTags(ctx context.Context, resourceID string, tags []domain.Tag) error {
	in := &ec2.CreateTagsInput{Resources: []string{resourceID}}
	for _, t := range tags {
		in.Tags = append(in.Tags, ec2types.Tag{Key: aws.String(t.Key), Value: aws.String(t.Value)})
	}
	if _, err := p.ec2.CreateTags(ctx, in); err != nil {
		return classify("create tags", resourceID, err)
	}
	return nil
}

func toDBInstance(d rdstypes.DBInstance) cloud.DBInstance {
	tags := make(map[string]string, len(d.TagList))
	for _, t := range d.TagList {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return cloud.DBInstance{
		Identifier: aws.ToString(d.DBInstanceIdentifier),
		Status:     aws.ToString(d.DBInstanceStatus),
		Tags:       tags,
	}
}

func (p *Provider) ListDBInstances(ctx context.Context) ([]cloud.DBInstance, error) {
	var out []cloud.DBInstance
	pager := rds.NewDescribeDBInstancesPaginator(p.rds, &rds.DescribeDBInstancesInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe db instances: %w", err)
		}
		for _, d := range page.DBInstances {
			out = append(out, toDBInstance(d))
		}
	}
	return out, nil
}

func (p *Provider) DBInstance(ctx context.Context, id string) (*cloud.DBInstance, error) {
	res, err := p.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{DBInstanceIdentifier: aws.String(id)})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("describe db instance %s: %w", id, err)
	}
	if len(res.DBInstances) == 0 {
		return nil, nil
	}
	d := toDBInstance(res.DBInstances[0])
	return &d, nil
}

func (p *Provider) StartDBInstance(ctx context.Context, id string) error {
	if _, err := p.rds.StartDBInstance(ctx, &rds.StartDBInstanceInput{DBInstanceIdentifier: aws.String(id)}); err != nil {
		return classify("start db instance", id, err)
	}
	return nil
}

func (p *Provider) StopDBInstance(ctx context.Context, id string) error {
	if _, err := p.rds.StopDBInstance(ctx, &rds.StopDBInstanceInput{DBInstanceIdentifier: aws.String(id)}); err != nil {
		return classify("stop db instance", id, err)
	}
	return nil
}

var _ cloud.Provider = (*Provider)(nil)
