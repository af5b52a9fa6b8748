package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/gateway"
	"github.com/wonny/optchain/internal/scheduler"
	"github.com/wonny/optchain/internal/scheduler/jobs"
	"github.com/wonny/optchain/internal/storage"
)

func newScheduleCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "거래일 스케줄 (plan, simulate, start)",
		Long: `하루 작업: 슬롯별 스냅샷 → close 스냅샷 + rollup → enrichment → QA.

Subcommands:
  plan      - 하루 작업 목록 출력
  simulate  - 모든 작업을 즉시 순서대로 실행
  start     - cron 데몬 (America/New_York)

Example:
  go run ./cmd/optchain schedule plan --date 2025-07-03
  go run ./cmd/optchain schedule simulate --date 2025-10-06
  go run ./cmd/optchain schedule start`,
	}
	cmd.AddCommand(newSchedulePlanCmd(o), newScheduleSimulateCmd(o), newScheduleStartCmd(o))
	return cmd
}

func newSchedulePlanCmd(o *rootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "하루 작업 목록",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, o)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.tradeDate(date)
			if err != nil {
				return err
			}
			plan := a.planner().PlanDay(d)
			if plan == nil {
				plan = []scheduler.PlannedJob{}
			}

			errOut := cmd.ErrOrStderr()
			printJobHeader(errOut, JobMetadata{Command: "Day Plan", TradeDate: calendar.Format(d)})
			rows := make([][]string, 0, len(plan))
			for _, j := range plan {
				rows = append(rows, []string{j.RunTime.In(calendar.ET()).Format("15:04"), string(j.Kind), fmt.Sprint(j.Slot)})
			}
			if len(rows) == 0 {
				printWarning(errOut, "market closed, nothing scheduled")
			} else {
				printTable(errOut, []string{"ET", "kind", "slot"}, []int{5, 22, 4}, rows)
			}
			return printJSON(a.out, plan)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "trade date YYYY-MM-DD (default: today ET)")
	return cmd
}

func newScheduleSimulateCmd(o *rootOptions) *cobra.Command {
	var (
		date    string
		symbols []string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "하루 작업을 즉시 순서대로 실행",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, o)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.tradeDate(date)
			if err != nil {
				return err
			}
			syms, err := a.symbols(symbols)
			if err != nil {
				return err
			}
			errOut := cmd.ErrOrStderr()
			printJobHeader(errOut, JobMetadata{Command: "Schedule Simulation", TradeDate: calendar.Format(d), Symbols: syms})

			gw, err := a.gateway(cmd.Context())
			if err != nil {
				return err
			}

			report, runErr := a.executor(gw, syms).RunSimulation(cmd.Context(), d)
			if report != nil {
				printDayReport(errOut, report)
				if err := printJSON(a.out, report); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			return dayError(report)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "trade date YYYY-MM-DD (default: today ET)")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "override the universe file")
	return cmd
}

func newScheduleStartCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "cron 데몬 시작",
		Long: `scheduler.plan_time (ET, 평일) 에 그날 작업을 계획하고 각 작업 시각까지 대기하며 실행합니다.
compaction.enabled 이면 compaction 도 등록합니다. Ctrl+C 로 종료.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, o)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := scheduler.New(a.log).WithRetries(2, 5*time.Minute)

			daily, err := jobs.NewDailyPipelineJob(dayRunner{app: a}, a.calendar, a.cfg.Scheduler.PlanTime, a.log)
			if err != nil {
				return err
			}
			if err := sched.AddJob(daily); err != nil {
				return err
			}
			if a.cfg.Compaction.Enabled {
				compactor := storage.NewCompactor(a.layout, a.cfg.Compaction, a.log)
				if err := sched.AddJob(jobs.NewCompactionJob(compactor, a.runLogs, a.cfg.CompactionSpec(), a.log)); err != nil {
					return err
				}
			}

			sched.Start()
			errOut := cmd.ErrOrStderr()
			printSuccess(errOut, "Scheduler started")
			for _, st := range sched.Stats() {
				next := "-"
				if st.NextRun != nil {
					next = st.NextRun.In(calendar.ET()).Format("2006-01-02 15:04 MST")
				}
				printKeyValue(errOut, st.JobName, st.Schedule+"  next "+next, 16)
			}
			fmt.Fprintln(errOut, "\nPress Ctrl+C to stop")

			<-cmd.Context().Done()
			sched.Stop()
			return printJSON(a.out, sched.Stats())
		},
	}
}

// dayRunner opens a fresh gateway session per trading day
type dayRunner struct {
	app *app
}

func (d dayRunner) RunDay(ctx context.Context, tradeDate time.Time) (*scheduler.DayReport, error) {
	a := d.app
	symbols, err := a.symbols(nil)
	if err != nil {
		return nil, err
	}
	gw, closer, err := a.opts.dial(ctx, a.cfg, a.log)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		defer closer.Close()
	}
	return a.executor(gateway.Serialize(gw), symbols).RunDay(ctx, tradeDate)
}

func printDayReport(w io.Writer, report *scheduler.DayReport) {
	rows := make([][]string, 0, len(report.Counts))
	for _, k := range []scheduler.JobKind{scheduler.JobSnapshot, scheduler.JobCloseSnapshotRollup, scheduler.JobEnrichment} {
		c := report.Counts[k]
		if c == nil {
			continue
		}
		rows = append(rows, []string{string(k), fmt.Sprint(c.Runs), fmt.Sprint(c.Failed), fmt.Sprint(c.Skipped), fmt.Sprint(c.Rows)})
	}
	printTable(w, []string{"kind", "runs", "failed", "skipped", "rows"}, []int{22, 5, 6, 7, 6}, rows)
	if report.QA != nil {
		printQA(w, report.QA)
	}
}

// dayError: QA FAIL 또는 작업 실패는 logical failure
func dayError(report *scheduler.DayReport) error {
	if report == nil {
		return nil
	}
	if err := qaError(report.QA); err != nil {
		return err
	}
	if report.QAError != "" {
		return fmt.Errorf("qa: %s", report.QAError)
	}
	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%d scheduled jobs failed", n)
	}
	return nil
}

var _ jobs.DayRunner = dayRunner{}
