package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/scheduler"
	"github.com/wonny/optchain/internal/storage"
	"github.com/wonny/optchain/pkg/config"
	"github.com/wonny/optchain/pkg/logger"
)

type fakeDay struct {
	days []time.Time
	err  error
}

func (f *fakeDay) RunDay(_ context.Context, d time.Time) (*scheduler.DayReport, error) {
	f.days = append(f.days, d)
	return &scheduler.DayReport{TradeDate: calendar.Format(d)}, f.err
}

func TestDailyPipelineJob(t *testing.T) {
	runner := &fakeDay{}
	job, err := NewDailyPipelineJob(runner, calendar.New(), "09:05", logger.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "daily_pipeline", job.Name())
	assert.Equal(t, "0 5 9 * * 1-5", job.Schedule())

	// 2025-10-06 09:05 ET == 13:05 UTC
	job.WithClock(func() time.Time { return time.Date(2025, 10, 6, 13, 5, 0, 0, time.UTC) })
	require.NoError(t, job.Run(context.Background()))
	require.Len(t, runner.days, 1)
	assert.Equal(t, "2025-10-06", calendar.Format(runner.days[0]))
}

func TestDailyPipelineJobSkipsHoliday(t *testing.T) {
	runner := &fakeDay{}
	job, err := NewDailyPipelineJob(runner, calendar.New(), "09:05", logger.NewNop())
	require.NoError(t, err)

	job.WithClock(func() time.Time { return time.Date(2025, 12, 25, 14, 5, 0, 0, time.UTC) })
	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, runner.days)
}

func TestDailyPipelineJobPropagatesCancel(t *testing.T) {
	runner := &fakeDay{err: context.Canceled}
	job, err := NewDailyPipelineJob(runner, calendar.New(), "09:05", logger.NewNop())
	require.NoError(t, err)

	job.WithClock(func() time.Time { return time.Date(2025, 10, 6, 13, 5, 0, 0, time.UTC) })
	assert.True(t, errors.Is(job.Run(context.Background()), context.Canceled))
}

func TestDailyPipelineJobBadPlanTime(t *testing.T) {
	_, err := NewDailyPipelineJob(&fakeDay{}, calendar.New(), "9am", logger.NewNop())
	assert.Error(t, err)
}

func TestCompactionJob(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.CleanRoot = t.TempDir()
	cfg.Paths.StateRoot = t.TempDir()
	layout := storage.NewLayout(cfg.Paths, cfg.Storage)
	runLogs := storage.NewRunLogs(layout)

	job := NewCompactionJob(storage.NewCompactor(layout, cfg.Compaction, logger.NewNop()), runLogs, "30 3 * * 6", logger.NewNop()).
		WithClock(func() time.Time { return time.Date(2025, 10, 11, 8, 0, 0, 0, time.UTC) })

	assert.Equal(t, "compaction", job.Name())
	assert.Equal(t, "0 30 3 * * 6", job.Schedule())
	require.NoError(t, job.Run(context.Background()))

	var result storage.CompactionResult
	require.NoError(t, runLogs.Read(storage.RunKindCompaction, "compaction_20251011", &result))
	assert.Zero(t, result.FilesMerged)
}
