package commands

import (
	"github.com/spf13/cobra"

	"github.com/wonny/optchain/internal/api"
	"github.com/wonny/optchain/internal/api/handlers"
)

func newServeCmd(o *rootOptions) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "읽기 전용 상태 API 서버",
		Long: `run log, QA 리포트, 메트릭, 하루 계획을 HTTP 로 제공합니다.

Endpoints:
  GET /health
  GET /api/runs/{kind}[?limit=N]
  GET /api/runs/{kind}/{name}
  GET /api/qa/latest
  GET /api/qa/{date}
  GET /api/metrics
  GET /api/metrics/{name}[?since=RFC3339]
  GET /api/schedule/{date}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, o)
			if err != nil {
				return err
			}
			defer a.Close()

			if port == "" {
				port = a.cfg.API.Port
			}
			router := api.NewRouter(api.Handlers{
				Runs:     handlers.NewRunsHandler(a.runLogs, a.log),
				QA:       handlers.NewQAHandler(a.runLogs, a.log),
				Metrics:  handlers.NewMetricsHandler(a.metrics, a.log),
				Schedule: handlers.NewScheduleHandler(a.planner(), a.log),
			}, a.log)
			return api.New(port, a.log, router).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (default: api.port)")
	return cmd
}
