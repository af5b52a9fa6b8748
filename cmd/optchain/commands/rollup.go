package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/optchain/internal/calendar"
)

type rollupOptions struct {
	date         string
	closeSlot    int
	fallbackSlot int
	allowLast    bool
}

func newRollupCmd(o *rootOptions) *cobra.Command {
	ro := &rollupOptions{}
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "EOD rollup (intraday → daily_clean, daily_adjusted)",
		Long: `하루치 intraday 샘플에서 계약당 한 행을 선택해 daily 뷰를 다시 씁니다.
전략 순서: close → slot_1530 (fallback) → last_good (allow_intraday_fallback).

Example:
  go run ./cmd/optchain rollup --date 2025-10-06
  go run ./cmd/optchain rollup --close-slot 13 --fallback-slot 12`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, o)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("close-slot") {
				a.cfg.CLI.RollupCloseSlot = ro.closeSlot
			}
			if cmd.Flags().Changed("fallback-slot") {
				a.cfg.CLI.RollupFallbackSlot = ro.fallbackSlot
			}
			if cmd.Flags().Changed("allow-last-good") {
				a.cfg.Rollup.AllowIntradayFallback = ro.allowLast
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			date, err := a.tradeDate(ro.date)
			if err != nil {
				return err
			}
			errOut := cmd.ErrOrStderr()
			printJobHeader(errOut, JobMetadata{Command: "EOD Rollup", TradeDate: calendar.Format(date)})

			result, runErr := a.rollupRunner().Run(cmd.Context(), date)
			if result != nil {
				printKeyValue(errOut, "partitions", fmt.Sprint(result.Partitions), 12)
				printKeyValue(errOut, "rows", fmt.Sprint(result.RowsWritten), 12)
				for strategy, n := range result.StrategyCounts {
					printKeyValue(errOut, strategy, fmt.Sprint(n), 12)
				}
			}
			if err := printJSON(a.out, result); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&ro.date, "date", "", "trade date YYYY-MM-DD (default: today ET)")
	cmd.Flags().IntVar(&ro.closeSlot, "close-slot", 13, "close slot (clamped on early-close days)")
	cmd.Flags().IntVar(&ro.fallbackSlot, "fallback-slot", 12, "fallback slot")
	cmd.Flags().BoolVar(&ro.allowLast, "allow-last-good", false, "allow the last good intraday sample")
	return cmd
}
