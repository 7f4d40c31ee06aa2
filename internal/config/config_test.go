package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Validate())
	assert.Equal(t, "2020-10-01T09:00:00+09:00", time.Date(2020, 10, 1, 0, 0, 0, 0, time.UTC).In(cfg.Location()).Format(time.RFC3339))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  table: my_schedules
schedule:
  utc_offset_hours: 0
  alarm_lead_time: 2m
notify:
  backend: nats
  nats_url: nats://localhost:4222
dry_run: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "my_schedules", cfg.Store.Table)
	assert.Equal(t, 3, cfg.Store.RetentionDays)
	assert.Equal(t, 0, cfg.Schedule.UTCOffsetHours)
	assert.Equal(t, 2*time.Minute, cfg.Schedule.AlarmLeadTime)
	assert.Equal(t, 25, cfg.Schedule.LookaheadHours)
	assert.True(t, cfg.DryRun)
	assert.Empty(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"ScheduleTableName": "prod_schedules",
		"AccountNo":         "123456789012",
		"region":            "us-east-1",
		"utfOffset":         "-5",
		"RecordTTLInDays":   "10",
		"dryRun":            "TRUE",
		"SlackChannel":      "#ops",
		"SlackErrorChannel": "none",
		"SlackToken":        "xoxb-1",
		"AccountNickName":   "prod",
		"SlackIcon":         ":clock:",
	}
	cfg := Default()
	require.NoError(t, applyEnv(&cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok }))

	assert.Equal(t, "prod_schedules", cfg.Store.Table)
	assert.Equal(t, "123456789012", cfg.AWS.AccountNo)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, -5, cfg.Schedule.UTCOffsetHours)
	assert.Equal(t, 10, cfg.Store.RetentionDays)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "#ops", cfg.Notify.Channel)
	assert.Equal(t, "none", cfg.Notify.ErrorChannel)
	assert.Equal(t, "slack", cfg.Notify.Backend)
	assert.Equal(t, "prod", cfg.Notify.Nickname)
	assert.Equal(t, ":clock:", cfg.Notify.Icon)
}

func TestEnvBadNumber(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, func(k string) (string, bool) {
		if k == "utfOffset" {
			return "nine", true
		}
		return "", false
	})
	assert.ErrorContains(t, err, "utfOffset")
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Store.Table = "drop table;"
	cfg.Store.RetentionDays = 0
	cfg.Notify.Backend = "slack"
	cfg.Triggers.Process = "every minute"
	cfg.Log.Level = "loud"
	assert.Len(t, cfg.Validate(), 5)
}
