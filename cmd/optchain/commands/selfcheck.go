package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wonny/optchain/internal/selfcheck"
)

func newSelfcheckCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "selfcheck",
		Short: "실행 환경 점검",
		Long: `설정, 디렉터리 쓰기 권한, 오늘 세션, 게이트웨이 current_time, 메트릭 저장소를 점검합니다.
하나라도 실패하면 exit code 2.

Example:
  go run ./cmd/optchain selfcheck`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, o)
			if err != nil {
				return err
			}
			defer a.Close()

			// 연결 실패도 점검 결과로 기록
			gw, err := a.gateway(cmd.Context())
			if err != nil {
				a.log.WithError(err).Warn("Gateway dial failed")
				gw = nil
			}

			report, err := selfcheck.New(a.cfg, a.calendar, gw, a.metrics, a.runLogs, a.log).
				WithClock(a.now).
				Run(cmd.Context())
			if err != nil {
				return err
			}

			errOut := cmd.ErrOrStderr()
			rows := make([][]string, 0, len(report.Checks))
			for _, c := range report.Checks {
				status, note := "ok", c.Detail
				if !c.OK {
					status, note = "FAIL", c.Error
				}
				rows = append(rows, []string{c.Name, status, note})
			}
			printTable(errOut, []string{"check", "status", "detail"}, []int{20, 6, 40}, rows)

			if err := printJSON(a.out, report); err != nil {
				return err
			}
			if !report.Passed() {
				return fmt.Errorf("%w: %s", errEnvironment, strings.Join(report.Failed(), ", "))
			}
			printSuccess(errOut, "Self-check passed")
			return nil
		},
	}
}
