package commands

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/optchain/internal/api/handlers"
	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/internal/storage"
	"github.com/wonny/optchain/pkg/httputil"
)

// statusReport is what `status` prints as JSON
type statusReport struct {
	Server   string                 `json:"server"`
	Health   map[string]interface{} `json:"health"`
	LatestQA *contracts.QAReport    `json:"latest_qa,omitempty"`
	Runs     map[string][]string    `json:"runs"`
	Errors   map[string]string      `json:"errors,omitempty"`
}

func newStatusCmd(o *rootOptions) *cobra.Command {
	var (
		addr  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "실행 중인 serve 인스턴스 상태 조회",
		Long: `serve 로 띄운 API 에서 health, 최신 QA, 최근 run log 를 가져옵니다.

Example:
  go run ./cmd/optchain status --addr http://localhost:8089`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, o)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = "http://localhost:" + a.cfg.API.Port
			}
			base := strings.TrimRight(addr, "/")
			client := httputil.New(a.log).WithTimeout(5*time.Second).WithRetry(2, 200*time.Millisecond)
			ctx := cmd.Context()

			report := statusReport{Server: base, Runs: map[string][]string{}, Errors: map[string]string{}}
			if err := client.GetJSON(ctx, base+"/health", &report.Health); err != nil {
				return fmt.Errorf("%s unreachable: %v: %w", base, err, errEnvironment)
			}

			var qaReport contracts.QAReport
			if err := client.GetJSON(ctx, base+"/api/qa/latest", &qaReport); err != nil {
				var se *httputil.StatusError
				if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
					report.Errors["qa"] = err.Error()
				}
			} else {
				report.LatestQA = &qaReport
			}

			for _, kind := range []string{storage.RunKindSnapshot, storage.RunKindRollup, storage.RunKindEnrichment, storage.RunKindSchedule} {
				var list handlers.ListRunsResponse
				url := fmt.Sprintf("%s/api/runs/%s?limit=%d", base, kind, limit)
				if err := client.GetJSON(ctx, url, &list); err != nil {
					report.Errors[kind] = err.Error()
					continue
				}
				report.Runs[kind] = list.Names
			}

			errOut := cmd.ErrOrStderr()
			printKeyValue(errOut, "server", base, 10)
			printKeyValue(errOut, "health", fmt.Sprint(report.Health["status"]), 10)
			if report.LatestQA != nil {
				printKeyValue(errOut, "qa", report.LatestQA.TradeDate+" "+report.LatestQA.Status, 10)
			} else {
				printWarning(errOut, "no QA report yet")
			}
			for kind, names := range report.Runs {
				latest := "-"
				if len(names) > 0 {
					latest = names[0]
				}
				printKeyValue(errOut, kind, latest, 10)
			}
			if len(report.Errors) == 0 {
				report.Errors = nil
			}
			return printJSON(a.out, report)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "serve base URL (default: http://localhost:<api.port>)")
	cmd.Flags().IntVar(&limit, "limit", 5, "run logs per kind")
	return cmd
}
