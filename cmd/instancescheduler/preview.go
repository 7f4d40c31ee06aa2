package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"instancescheduler/internal/domain"
	"instancescheduler/internal/scheduler"
)

var (
	previewHours  int
	previewFrom   string
	previewOffset int
)

var previewCmd = &cobra.Command{
	Use:   "preview <expr>",
	Short: "Print the occurrences of a schedule expression",
	Example: `  instancescheduler preview "0 9,18 * * *"
  instancescheduler preview "30 8 @ @ @" --hours 48 --utc-offset 9`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := scheduler.Parse(args[0]); err != nil {
			return fmt.Errorf("invalid expression %q: %w", args[0], err)
		}
		from := time.Now()
		if previewFrom != "" {
			t, err := time.Parse(time.RFC3339, previewFrom)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			from = t
		}
		from = from.In(time.FixedZone("", previewOffset*3600)).Truncate(time.Second)
		for _, at := range scheduler.Occurrences(args[0], previewHours, from) {
			fmt.Fprintln(cmd.OutOrStdout(), domain.FormatTime(at))
		}
		return nil
	},
}

func init() {
	previewCmd.Flags().IntVar(&previewHours, "hours", 24, "lookahead window in hours")
	previewCmd.Flags().StringVar(&previewFrom, "from", "", "reference instant (RFC3339), default now")
	previewCmd.Flags().IntVar(&previewOffset, "utc-offset", 9, "UTC offset in hours for the output")
}
