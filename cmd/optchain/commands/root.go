package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// rootOptions are the global flags plus the seams tests replace
type rootOptions struct {
	configFile string
	verbose    bool

	dial  dialFunc
	clock func() time.Time
}

func defaultOptions() *rootOptions {
	return &rootOptions{dial: dialBridge, clock: time.Now}
}

func newRootCmd(o *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "optchain",
		Short: "US equity options-chain market data pipeline",
		Long: `optchain CLI

30분 간격 옵션 체인 스냅샷, EOD rollup, open interest 보강, QA 를
거래 캘린더에 맞춰 수행합니다.

Usage:
  go run ./cmd/optchain [command]

Examples:
  go run ./cmd/optchain selfcheck
  go run ./cmd/optchain snapshot --symbols AAPL,MSFT
  go run ./cmd/optchain rollup --date 2025-10-06
  go run ./cmd/optchain schedule start`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&o.configFile, "config", "", "YAML config file (env OPTCHAIN_* overrides)")
	root.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newSnapshotCmd(o),
		newCloseSnapshotCmd(o),
		newRollupCmd(o),
		newEnrichmentCmd(o),
		newQACmd(o),
		newSelfcheckCmd(o),
		newScheduleCmd(o),
		newBackfillPlanCmd(o),
		newServeCmd(o),
		newStatusCmd(o),
	)
	return root
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd(defaultOptions()).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
	}
	return ExitCode(err)
}
