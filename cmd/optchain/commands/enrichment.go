package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/optchain/internal/calendar"
)

type enrichmentOptions struct {
	date   string
	fields []string
	force  bool
}

func newEnrichmentCmd(o *rootOptions) *cobra.Command {
	eo := &enrichmentOptions{}
	cmd := &cobra.Command{
		Use:   "enrichment",
		Short: "daily_clean open interest 보강",
		Long: `open_interest 가 비어 있는 daily_clean 행을 historical OPTION_OPEN_INTEREST 로 채웁니다.
--force 는 값이 있는 행도 다시 조회합니다.

Example:
  go run ./cmd/optchain enrichment --date 2025-10-06
  go run ./cmd/optchain enrichment --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, o)
			if err != nil {
				return err
			}
			defer a.Close()

			if eo.force {
				a.cfg.Enrichment.ForceOverwrite = true
			}
			fields := eo.fields
			if len(fields) == 0 {
				fields = a.cfg.Enrichment.Fields
			}

			date, err := a.tradeDate(eo.date)
			if err != nil {
				return err
			}
			errOut := cmd.ErrOrStderr()
			printJobHeader(errOut, JobMetadata{Command: "Open Interest Enrichment", TradeDate: calendar.Format(date)})

			gw, err := a.gateway(cmd.Context())
			if err != nil {
				return err
			}

			result, runErr := a.enrichmentRunner(gw).Run(cmd.Context(), date, fields)
			if result != nil {
				printKeyValue(errOut, "considered", fmt.Sprint(result.RowsConsidered), 10)
				printKeyValue(errOut, "updated", fmt.Sprint(result.RowsUpdated), 10)
				printKeyValue(errOut, "errors", fmt.Sprint(len(result.Errors)), 10)
			}
			if err := printJSON(a.out, result); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&eo.date, "date", "", "trade date YYYY-MM-DD (default: today ET)")
	cmd.Flags().StringSliceVar(&eo.fields, "fields", nil, "fields to enrich (default: enrichment.fields)")
	cmd.Flags().BoolVar(&eo.force, "force", false, "overwrite existing values")
	return cmd
}
