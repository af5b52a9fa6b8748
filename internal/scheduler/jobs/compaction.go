package jobs

import (
	"context"
	"time"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/storage"
	"github.com/wonny/optchain/pkg/logger"
)

// compactionLookbackDays 는 한 번에 훑는 과거 일수
const compactionLookbackDays = 30

// CompactionJob merges small part files of recent dates
type CompactionJob struct {
	compactor *storage.Compactor
	runLogs   *storage.RunLogs
	spec      string
	clock     func() time.Time
	logger    *logger.Logger
}

// NewCompactionJob creates the job; spec is a 5-field cron expression
func NewCompactionJob(compactor *storage.Compactor, runLogs *storage.RunLogs, spec string, log *logger.Logger) *CompactionJob {
	return &CompactionJob{
		compactor: compactor,
		runLogs:   runLogs,
		spec:      spec,
		clock:     time.Now,
		logger:    log.WithField("job", "compaction"),
	}
}

// WithClock overrides the clock (tests)
func (j *CompactionJob) WithClock(clock func() time.Time) *CompactionJob {
	j.clock = clock
	return j
}

// Name returns the job name
func (j *CompactionJob) Name() string {
	return "compaction"
}

// Schedule prefixes the seconds field the scheduler expects
func (j *CompactionJob) Schedule() string {
	return "0 " + j.spec
}

// Run compacts the last compactionLookbackDays days
func (j *CompactionJob) Run(ctx context.Context) error {
	today := calendar.Today(j.clock())
	from := today.AddDate(0, 0, -compactionLookbackDays)

	result, err := j.compactor.Run(ctx, from, today, today)
	if result != nil && j.runLogs != nil {
		if _, werr := j.runLogs.Write(storage.RunKindCompaction, storage.Name(storage.RunKindCompaction, today, ""), result); werr != nil {
			j.logger.WithError(werr).Warn("Failed to write compaction run log")
		}
	}
	return err
}
