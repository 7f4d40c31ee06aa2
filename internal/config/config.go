// Package config loads the scheduler configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Store    StoreConfig    `yaml:"store"`
	AWS      AWSConfig      `yaml:"aws"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Notify   NotifyConfig   `yaml:"notify"`
	HTTP     HTTPConfig     `yaml:"http"`
	Worker   WorkerConfig   `yaml:"worker"`
	Triggers TriggerConfig  `yaml:"triggers"`
	Log      LogConfig      `yaml:"log"`
	DryRun   bool           `yaml:"dry_run"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	Table         string `yaml:"table"`
	RetentionDays int    `yaml:"retention_days"`
}

type AWSConfig struct {
	Provider        string        `yaml:"provider"` // aws or fake
	AccountNo       string        `yaml:"account_no"`
	Region          string        `yaml:"region"`
	ImageNamePrefix string        `yaml:"image_name_prefix"`
	WaitTimeout     time.Duration `yaml:"wait_timeout"`
}

type ScheduleConfig struct {
	UTCOffsetHours     int           `yaml:"utc_offset_hours"`
	LookaheadHours     int           `yaml:"lookahead_hours"`
	AlarmLeadTime      time.Duration `yaml:"alarm_lead_time"`
	ImageRetentionDays int           `yaml:"image_retention_days"`
}

type NotifyConfig struct {
	Backend      string `yaml:"backend"` // slack, nats or log
	Channel      string `yaml:"channel"`
	ErrorChannel string `yaml:"error_channel"`
	SlackToken   string `yaml:"slack_token"`
	Nickname     string `yaml:"nickname"`
	Icon         string `yaml:"icon"`
	NATSURL      string `yaml:"nats_url"`
	NATSSubject  string `yaml:"nats_subject"`
	RatePerSec   int    `yaml:"rate_per_sec"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type TriggerConfig struct {
	Register string        `yaml:"register"`
	Process  string        `yaml:"process"`
	Timeout  time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store:    StoreConfig{Path: "scheduler.db", Table: "schedules", RetentionDays: 3},
		AWS:      AWSConfig{Provider: "aws", Region: "ap-northeast-1", ImageNamePrefix: "AutoGeneratedAMI_", WaitTimeout: 5 * time.Minute},
		Schedule: ScheduleConfig{UTCOffsetHours: 9, LookaheadHours: 25, AlarmLeadTime: 5 * time.Minute, ImageRetentionDays: 7},
		Notify:   NotifyConfig{Backend: "log", NATSSubject: "scheduler.notify", RatePerSec: 1},
		HTTP:     HTTPConfig{Addr: ":8080"},
		Worker:   WorkerConfig{Concurrency: 4},
		Triggers: TriggerConfig{Register: "0 * * * *", Process: "*/5 * * * *", Timeout: 10 * time.Minute},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv honours the environment names used by the Lambda deployment.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}

	str("ScheduleTableName", &cfg.Store.Table)
	str("AccountNo", &cfg.AWS.AccountNo)
	str("region", &cfg.AWS.Region)
	num("utfOffset", &cfg.Schedule.UTCOffsetHours)
	num("RecordTTLInDays", &cfg.Store.RetentionDays)
	str("SlackChannel", &cfg.Notify.Channel)
	str("SlackErrorChannel", &cfg.Notify.ErrorChannel)
	str("SlackToken", &cfg.Notify.SlackToken)
	str("AccountNickName", &cfg.Notify.Nickname)
	str("SlackIcon", &cfg.Notify.Icon)
	if v, ok := lookup("dryRun"); ok {
		cfg.DryRun = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if cfg.Notify.SlackToken != "" && cfg.Notify.Backend == "log" {
		if _, ok := lookup("SlackToken"); ok {
			cfg.Notify.Backend = "slack"
		}
	}
	return errors.Join(errs...)
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate returns every problem found.
func (c *Config) Validate() []error {
	var errs []error
	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path is required"))
	}
	if !tableName.MatchString(c.Store.Table) {
		errs = append(errs, fmt.Errorf("invalid store.table: %q", c.Store.Table))
	}
	if c.Store.RetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("store.retention_days must be positive"))
	}
	if c.Schedule.UTCOffsetHours < -12 || c.Schedule.UTCOffsetHours > 14 {
		errs = append(errs, fmt.Errorf("schedule.utc_offset_hours out of range: %d", c.Schedule.UTCOffsetHours))
	}
	if c.Schedule.LookaheadHours <= 0 {
		errs = append(errs, fmt.Errorf("schedule.lookahead_hours must be positive"))
	}
	if c.Schedule.ImageRetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("schedule.image_retention_days must be positive"))
	}
	if c.AWS.Provider != "aws" && c.AWS.Provider != "fake" {
		errs = append(errs, fmt.Errorf("invalid aws.provider: %s (expected: aws, fake)", c.AWS.Provider))
	}
	switch c.Notify.Backend {
	case "log":
	case "slack":
		if c.Notify.SlackToken == "" {
			errs = append(errs, fmt.Errorf("notify.slack_token is required when backend is 'slack'"))
		}
	case "nats":
		if c.Notify.NATSURL == "" {
			errs = append(errs, fmt.Errorf("notify.nats_url is required when backend is 'nats'"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid notify.backend: %s (expected: slack, nats, log)", c.Notify.Backend))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker.concurrency must be positive"))
	}
	for name, spec := range map[string]string{"triggers.register": c.Triggers.Register, "triggers.process": c.Triggers.Process} {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log.level: %s (expected: debug, info, warn, error)", c.Log.Level))
	}
	return errs
}

// Location is the fixed zone every timestamp is rendered in.
func (c *Config) Location() *time.Location {
	return time.FixedZone("", c.Schedule.UTCOffsetHours*3600)
}
