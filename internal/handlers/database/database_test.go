package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instancescheduler/internal/cloud"
	"instancescheduler/internal/cloud/fake"
	"instancescheduler/internal/domain"
)

func task(kind domain.Kind, id string) domain.Task {
	return domain.Task{Kind: kind, ResourceType: domain.ResourceDatabase, ResourceID: id, ScheduledTime: "2020-10-01T09:00:00+09:00", Payload: domain.DatabaseAction{}}
}

func TestDatabaseHandler(t *testing.T) {
	cases := []struct {
		name    string
		kind    domain.Kind
		status  string
		failOp  string
		want    domain.Outcome
		mutates bool
	}{
		{"start stopped", domain.KindStartDatabase, "stopped", "", domain.OutcomeOK, true},
		{"start available", domain.KindStartDatabase, "available", "", domain.OutcomeOK, false},
		{"start starting", domain.KindStartDatabase, "starting", "", domain.OutcomeOK, false},
		{"stop available", domain.KindStopDatabase, "available", "", domain.OutcomeOK, true},
		{"stop stopping", domain.KindStopDatabase, "stopping", "", domain.OutcomeOK, false},
		{"stop failure", domain.KindStopDatabase, "available", "StopDBInstance", domain.OutcomeError, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := fake.New()
			p.AddDBInstance(cloud.DBInstance{Identifier: "db-1", Status: tc.status})
			if tc.failOp != "" {
				p.Fail(tc.failOp, "db-1", errors.New("invalid state"))
			}
			res, err := New(p, false).Handle(context.Background(), task(tc.kind, "db-1"))
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Outcome)
			assert.Equal(t, tc.mutates, len(p.Calls()) > 0)
		})
	}
}

func TestDatabaseMissingIsError(t *testing.T) {
	res, err := New(fake.New(), false).Handle(context.Background(), task(domain.KindStartDatabase, "db-x"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeError, res.Outcome)

	p := fake.New()
	p.Fail("DBInstance", "db-1", errors.New("throttled"))
	res, err = New(p, false).Handle(context.Background(), task(domain.KindStartDatabase, "db-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeError, res.Outcome)
}

func TestDatabaseDryRun(t *testing.T) {
	p := fake.New()
	p.AddDBInstance(cloud.DBInstance{Identifier: "db-1", Status: "available"})
	res, err := New(p, true).Handle(context.Background(), task(domain.KindStopDatabase, "db-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OK("dry run"), res)
	assert.Empty(t, p.Calls())
}
