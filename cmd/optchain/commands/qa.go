package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/contracts"
)

type qaOptions struct {
	date    string
	symbols []string
}

func newQACmd(o *rootOptions) *cobra.Command {
	qo := &qaOptions{}
	cmd := &cobra.Command{
		Use:   "qa",
		Short: "일일 QA 리포트",
		Long: `slot coverage, delayed ratio, rollup fallback ratio, OI enrichment ratio 를 계산합니다.
FAIL 이면 exit code 1.

Example:
  go run ./cmd/optchain qa --date 2025-10-06`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, o)
			if err != nil {
				return err
			}
			defer a.Close()

			date, err := a.tradeDate(qo.date)
			if err != nil {
				return err
			}
			// 유니버스가 없으면 intraday 에 있는 심볼 기준
			symbols, err := a.symbols(qo.symbols)
			if err != nil {
				symbols = nil
			}

			errOut := cmd.ErrOrStderr()
			printJobHeader(errOut, JobMetadata{Command: "QA", TradeDate: calendar.Format(date), Symbols: symbols})

			report, err := a.qaCalculator().Run(cmd.Context(), date, symbols)
			if err != nil {
				return err
			}
			printQA(errOut, report)
			if err := printJSON(a.out, report); err != nil {
				return err
			}
			return qaError(report)
		},
	}
	cmd.Flags().StringVar(&qo.date, "date", "", "trade date YYYY-MM-DD (default: today ET)")
	cmd.Flags().StringSliceVar(&qo.symbols, "symbols", nil, "override the universe file")
	return cmd
}

func printQA(w io.Writer, report *contracts.QAReport) {
	names := make([]string, 0, len(report.Metrics))
	for k := range report.Metrics {
		names = append(names, k)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, k := range names {
		status := "ok"
		if !report.Checks[k] {
			status = "BREACH"
		}
		rows = append(rows, []string{k, fmt.Sprintf("%.4f", report.Metrics[k]), fmt.Sprintf("%.4f", report.Thresholds[k]), status})
	}
	printTable(w, []string{"metric", "value", "threshold", "check"}, []int{24, 8, 9, 6}, rows)

	if report.Passed() {
		printSuccess(w, "QA PASS")
	} else {
		printWarning(w, "QA FAIL: "+strings.Join(report.Breaches, ", "))
	}
}

// qaError maps a FAIL report to ErrQAFail
func qaError(report *contracts.QAReport) error {
	if report == nil || report.Passed() {
		return nil
	}
	return fmt.Errorf("%w: %s", contracts.ErrQAFail, strings.Join(report.Breaches, ", "))
}
