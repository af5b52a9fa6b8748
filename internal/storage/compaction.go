package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/pkg/config"
	"github.com/wonny/optchain/pkg/logger"
)

const mb = 1 << 20

// CompactionResult summarizes one compaction pass
type CompactionResult struct {
	Partitions   int       `json:"partitions"`
	FilesMerged  int       `json:"files_merged"`
	FilesWritten int       `json:"files_written"`
	BytesBefore  int64     `json:"bytes_before"`
	Errors       []string  `json:"errors"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Compactor merges small part files of the daily and enrichment views.
// Intraday partitions keep one file per slot and are never compacted.
type Compactor struct {
	layout Layout
	cfg    config.CompactionConfig
	clock  func() time.Time
	logger *logger.Logger
}

// NewCompactor creates a compactor
func NewCompactor(layout Layout, cfg config.CompactionConfig, log *logger.Logger) *Compactor {
	return &Compactor{
		layout: layout,
		cfg:    cfg,
		clock:  time.Now,
		logger: log.WithField("module", "compaction"),
	}
}

// WithClock overrides the clock used for result timestamps
func (c *Compactor) WithClock(clock func() time.Time) *Compactor {
	c.clock = clock
	return c
}

// Run compacts every partition of dates in [from, to]
func (c *Compactor) Run(ctx context.Context, from, to, today time.Time) (*CompactionResult, error) {
	result := &CompactionResult{StartedAt: c.clock()}

	for d := calendar.Date(from); !d.After(calendar.Date(to)); d = d.AddDate(0, 0, 1) {
		for _, view := range []View{ViewDailyClean, ViewDailyAdjusted, ViewEnrichment} {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			partitions, err := c.layout.ListPartitions(c.layout.CleanRoot, view, d)
			if err != nil {
				return result, err
			}

			codec := c.layout.CodecFor(d, today)
			for _, p := range partitions {
				var merged, written int
				var before int64
				if view == ViewEnrichment {
					merged, written, before, err = compactPartition(p, codec, c.minBytes(), c.maxBytes(), WriteFile[contracts.EnrichmentRecord])
				} else {
					merged, written, before, err = compactPartition(p, codec, c.minBytes(), c.maxBytes(), WriteFile[contracts.OptionRow])
				}
				if err != nil {
					c.logger.WithError(err).WithField("dir", p.Dir).Warn("Compaction failed")
					result.Errors = append(result.Errors, err.Error())
					continue
				}
				if merged > 0 {
					result.Partitions++
					result.FilesMerged += merged
					result.FilesWritten += written
					result.BytesBefore += before
				}
			}
		}
	}

	result.FinishedAt = c.clock()
	c.logger.WithFields(map[string]interface{}{
		"partitions":    result.Partitions,
		"files_merged":  result.FilesMerged,
		"files_written": result.FilesWritten,
	}).Info("Compaction completed")

	return result, nil
}

func (c *Compactor) minBytes() int64 {
	return int64(c.cfg.MinFileSizeMB * mb)
}

func (c *Compactor) maxBytes() int64 {
	return int64(c.cfg.MaxFileSizeMB * mb)
}

// compactPartition merges the part files smaller than minBytes when there are at least two.
// A failed write removes the chunks already written; the source files stay.
func compactPartition[T any](p Partition, codec Codec, minBytes, maxBytes int64, write func(string, []T, Codec) error) (merged, written int, before int64, err error) {
	var small []string
	for _, f := range p.Files {
		info, err := os.Stat(f)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("stat %s: %w", f, err)
		}
		if info.Size() < minBytes {
			small = append(small, f)
			before += info.Size()
		}
	}
	if len(small) < 2 {
		return 0, 0, 0, nil
	}

	rows, err := ReadFiles[T](small)
	if err != nil {
		return 0, 0, 0, err
	}

	chunks := chunkRows(rows, before, maxBytes)
	next, err := NextPartIndex(p.Dir)
	if err != nil {
		return 0, 0, 0, err
	}

	var done []string
	for i, chunk := range chunks {
		path := filepath.Join(p.Dir, PartFileName(next+i))
		if err := write(path, chunk, codec); err != nil {
			for _, f := range done {
				_ = os.Remove(f)
			}
			return 0, 0, 0, err
		}
		done = append(done, path)
	}

	for _, f := range small {
		if err := os.Remove(f); err != nil {
			return 0, 0, 0, fmt.Errorf("remove %s: %w", f, err)
		}
	}
	return len(small), len(chunks), before, nil
}

// chunkRows splits rows so that each chunk stays under maxBytes, estimated from the input size
func chunkRows[T any](rows []T, totalBytes, maxBytes int64) [][]T {
	if len(rows) == 0 {
		return nil
	}
	perFile := len(rows)
	if maxBytes > 0 && totalBytes > maxBytes {
		bytesPerRow := totalBytes / int64(len(rows))
		if bytesPerRow < 1 {
			bytesPerRow = 1
		}
		perFile = int(maxBytes / bytesPerRow)
		if perFile < 1 {
			perFile = 1
		}
	}

	var chunks [][]T
	for start := 0; start < len(rows); start += perFile {
		end := start + perFile
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}
