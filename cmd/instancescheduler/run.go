package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"instancescheduler/internal/app"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Generate tasks for the lookahead window and store them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduler(func(ctx context.Context, s *app.Scheduler) error {
			rep, err := s.Register(ctx)
			printJSON(rep)
			return err
		})
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Execute every due task, then check always-running instances",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduler(func(ctx context.Context, s *app.Scheduler) error {
			rep, err := s.Process(ctx)
			printJSON(rep)
			return err
		})
	},
}

var processTaskCmd = &cobra.Command{
	Use:   "process-task <key>",
	Short: "Execute one stored task by key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduler(func(ctx context.Context, s *app.Scheduler) error {
			res, err := s.ProcessTask(ctx, args[0])
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		})
	},
}

func withScheduler(fn func(ctx context.Context, s *app.Scheduler) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	if cfg.Triggers.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Triggers.Timeout)
		defer cancel()
	}
	rt, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Scheduler)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
