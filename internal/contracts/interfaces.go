package contracts

import (
	"context"
	"time"
)

// SnapshotStage samples one slot for a set of underlyings
// ⭐ SSOT: 스케줄러가 호출하는 단계 인터페이스
type SnapshotStage interface {
	Run(ctx context.Context, tradeDate time.Time, slot int, symbols []string, runType string) (*SnapshotResult, error)
}

// RollupStage reduces intraday samples to one EOD row per contract
type RollupStage interface {
	Run(ctx context.Context, tradeDate time.Time) (*RollupResult, error)
}

// EnrichmentStage back-fills fields on daily rows
type EnrichmentStage interface {
	Run(ctx context.Context, tradeDate time.Time, fields []string) (*EnrichmentResult, error)
}

// QAStage computes the day-level report
type QAStage interface {
	Run(ctx context.Context, tradeDate time.Time, symbols []string) (*QAReport, error)
}
