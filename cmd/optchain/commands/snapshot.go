package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/snapshot"
)

type snapshotOptions struct {
	date       string
	slot       int
	symbols    []string
	withRollup bool
}

func newSnapshotCmd(o *rootOptions) *cobra.Command {
	so := &snapshotOptions{}
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "장중 30분 슬롯 스냅샷 수집",
		Long: `한 슬롯의 옵션 체인 스냅샷을 수집해 intraday 뷰에 기록합니다.

--slot 을 생략하면 현재 시각(+ cli.snapshot_grace_seconds)에서 가장 최근 슬롯을 사용합니다.

Example:
  go run ./cmd/optchain snapshot
  go run ./cmd/optchain snapshot --date 2025-10-06 --slot 3 --symbols AAPL`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(cmd, o, so, contracts.RunTypeIntraday)
		},
	}
	cmd.Flags().StringVar(&so.date, "date", "", "trade date YYYY-MM-DD (default: today ET)")
	cmd.Flags().IntVar(&so.slot, "slot", -1, "slot index (default: resolve from clock)")
	cmd.Flags().StringSliceVar(&so.symbols, "symbols", nil, "override the universe file")
	return cmd
}

func newCloseSnapshotCmd(o *rootOptions) *cobra.Command {
	so := &snapshotOptions{}
	cmd := &cobra.Command{
		Use:   "close-snapshot",
		Short: "장 마감 스냅샷 수집",
		Long: `세션 마감 슬롯(16:00, 조기 폐장일은 13:00)의 스냅샷을 run type close 로 수집합니다.

Example:
  go run ./cmd/optchain close-snapshot --date 2025-07-03
  go run ./cmd/optchain close-snapshot --with-rollup`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(cmd, o, so, contracts.RunTypeClose)
		},
	}
	cmd.Flags().StringVar(&so.date, "date", "", "trade date YYYY-MM-DD (default: today ET)")
	cmd.Flags().StringSliceVar(&so.symbols, "symbols", nil, "override the universe file")
	cmd.Flags().BoolVar(&so.withRollup, "with-rollup", false, "run the EOD rollup afterwards")
	so.slot = -1
	return cmd
}

func runSnapshot(cmd *cobra.Command, o *rootOptions, so *snapshotOptions, runType string) error {
	a, err := newApp(cmd, o)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	date, err := a.tradeDate(so.date)
	if err != nil {
		return err
	}
	session, ok := a.calendar.Session(date)
	if !ok {
		return fmt.Errorf("%s is not a trading day", calendar.Format(date))
	}

	slot := so.slot
	switch {
	case runType == contracts.RunTypeClose:
		slot = session.LastSlot()
	case slot < 0:
		grace := time.Duration(a.cfg.CLI.SnapshotGraceSeconds) * time.Second
		if slot, err = snapshot.ResolveSlot(session, a.now(), grace); err != nil {
			return err
		}
	}

	symbols, err := a.symbols(so.symbols)
	if err != nil {
		return err
	}

	errOut := cmd.ErrOrStderr()
	printJobHeader(errOut, JobMetadata{
		Command:   "Snapshot (" + runType + ")",
		TradeDate: calendar.Format(date),
		Slot:      session.Slots()[slot].Label,
		Symbols:   symbols,
	})

	gw, err := a.gateway(ctx)
	if err != nil {
		return err
	}

	result, runErr := a.snapshotRunner(gw).Run(ctx, date, slot, symbols, runType)
	if result != nil {
		a.backfillUniverse(result.UnderlyingContractIDs)
		printKeyValue(errOut, "rows", fmt.Sprint(result.RowsWritten), 10)
		printKeyValue(errOut, "timed out", fmt.Sprint(result.TimedOut), 10)
		printKeyValue(errOut, "errors", fmt.Sprint(len(result.Errors)), 10)
	}

	report := map[string]interface{}{"snapshot": result}
	if so.withRollup {
		// close 스냅샷 실패와 무관하게 rollup 수행
		rolled, err := a.rollupRunner().Run(ctx, date)
		report["rollup"] = rolled
		if runErr == nil {
			runErr = err
		}
	}

	if err := printJSON(a.out, report); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	printSuccess(errOut, "Snapshot completed")
	return nil
}
