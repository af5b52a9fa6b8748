package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/optchain/internal/backfill"
	"github.com/wonny/optchain/internal/calendar"
)

func newBackfillPlanCmd(o *rootOptions) *cobra.Command {
	var (
		from, to string
		symbols  []string
	)
	cmd := &cobra.Command{
		Use:   "backfill-plan",
		Short: "누락 파티션 백필 계획 작성",
		Long: `기간 내 누락된 intraday 슬롯, daily_clean, open_interest 를 찾아
<state_root>/backfill_YYYY-MM-DD.jsonl 에 작업 목록을 기록합니다. 실행은 하지 않습니다.

Example:
  go run ./cmd/optchain backfill-plan --from 2025-10-01 --to 2025-10-10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, o)
			if err != nil {
				return err
			}
			defer a.Close()

			start, err := a.tradeDate(from)
			if err != nil {
				return err
			}
			end, err := a.tradeDate(to)
			if err != nil {
				return err
			}
			if end.Before(start) {
				return fmt.Errorf("--to %s is before --from %s", calendar.Format(end), calendar.Format(start))
			}
			syms, err := a.symbols(symbols)
			if err != nil {
				return err
			}

			errOut := cmd.ErrOrStderr()
			printJobHeader(errOut, JobMetadata{
				Command:   "Backfill Plan",
				TradeDate: calendar.Format(start) + " ~ " + calendar.Format(end),
				Symbols:   syms,
			})

			planner := backfill.NewPlanner(a.layout, a.calendar, a.cfg.Snapshot.Exchange, a.log)
			tasks, err := planner.Plan(start, end, syms)
			if err != nil {
				return err
			}
			path, err := planner.Write(tasks, a.now())
			if err != nil {
				return err
			}

			counts := backfill.Counts(tasks)
			for _, kind := range []string{backfill.TaskIntradaySlot, backfill.TaskDailyClean, backfill.TaskOpenInterest} {
				printKeyValue(errOut, kind, fmt.Sprint(counts[kind]), 16)
			}
			printKeyValue(errOut, "path", path, 16)

			return printJSON(a.out, map[string]interface{}{
				"path":   path,
				"tasks":  len(tasks),
				"counts": counts,
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first trade date YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&to, "to", "today", "last trade date YYYY-MM-DD")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "override the universe file")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}
