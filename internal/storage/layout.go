package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	pqzstd "github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/wonny/optchain/internal/calendar"
	"github.com/wonny/optchain/pkg/config"
)

// View is a dataset view under a root
type View string

const (
	ViewIntraday      View = "intraday"
	ViewDailyClean    View = "daily_clean"
	ViewDailyAdjusted View = "daily_adjusted"
	ViewEnrichment    View = "enrichment"
)

const partExt = ".parquet"

// Codec is the compression picked for a partition
type Codec struct {
	Name  string `json:"name"`
	Level int    `json:"level,omitempty"`
}

// Compression returns the parquet codec
func (c Codec) Compression() compress.Codec {
	switch strings.ToLower(c.Name) {
	case "zstd":
		level := pqzstd.DefaultLevel
		if c.Level > 0 {
			level = zstd.EncoderLevelFromZstd(c.Level)
		}
		return &pqzstd.Codec{Level: level, Concurrency: 1}
	case "none":
		return &parquet.Uncompressed
	default:
		return &parquet.Snappy
	}
}

// Layout builds hive-style partition paths
// ⭐ SSOT: <root>/view=<v>/date=YYYY-MM-DD/underlying=<SYM>/exchange=<EX>/part-NNN.parquet
type Layout struct {
	RawRoot   string
	CleanRoot string
	StateRoot string
	storage   config.StorageConfig
}

// NewLayout creates a layout from config
func NewLayout(paths config.PathsConfig, storage config.StorageConfig) Layout {
	return Layout{
		RawRoot:   paths.RawRoot,
		CleanRoot: paths.CleanRoot,
		StateRoot: paths.StateRoot,
		storage:   storage,
	}
}

// PartitionDir returns the directory of one partition
func (l Layout) PartitionDir(root string, view View, date time.Time, underlying, exchange string) string {
	return filepath.Join(root,
		"view="+string(view),
		"date="+calendar.Format(date),
		"underlying="+strings.ToUpper(underlying),
		"exchange="+strings.ToUpper(exchange),
	)
}

// PartitionPath returns the path of part <index> of a partition
func (l Layout) PartitionPath(root string, view View, date time.Time, underlying, exchange string, index int) string {
	return filepath.Join(l.PartitionDir(root, view, date, underlying, exchange), PartFileName(index))
}

// DateDir returns <root>/view=<v>/date=<d>
func (l Layout) DateDir(root string, view View, date time.Time) string {
	return filepath.Join(root, "view="+string(view), "date="+calendar.Format(date))
}

// ContractsCacheDir returns <state>/contracts_cache
func (l Layout) ContractsCacheDir() string {
	return filepath.Join(l.StateRoot, "contracts_cache")
}

// RunLogDir returns <state>/run_logs
func (l Layout) RunLogDir() string {
	return filepath.Join(l.StateRoot, "run_logs")
}

// CodecFor picks the codec: hot (snappy) within hot_days of today, cold (zstd+level) otherwise
func (l Layout) CodecFor(tradeDate, today time.Time) Codec {
	if calendar.DaysBetween(tradeDate, today) <= l.storage.HotDays {
		return Codec{Name: strings.ToLower(l.storage.HotCodec)}
	}
	return Codec{Name: strings.ToLower(l.storage.ColdCodec), Level: l.storage.ColdCodecLevel}
}

// PartFileName formats part-NNN.parquet
func PartFileName(index int) string {
	return fmt.Sprintf("part-%03d%s", index, partExt)
}

// PartIndex parses the index out of a part file name
func PartIndex(name string) (int, bool) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, "part-") || !strings.HasSuffix(base, partExt) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(base, "part-"), partExt))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Partition is one underlying/exchange directory of a view for a date
type Partition struct {
	View       View     `json:"view"`
	Date       string   `json:"date"`
	Underlying string   `json:"underlying"`
	Exchange   string   `json:"exchange"`
	Dir        string   `json:"dir"`
	Files      []string `json:"files"`
}

// ListPartitions returns every partition of view on date, sorted by underlying then exchange
func (l Layout) ListPartitions(root string, view View, date time.Time) ([]Partition, error) {
	dateDir := l.DateDir(root, view, date)
	dirs, err := filepath.Glob(filepath.Join(dateDir, "underlying=*", "exchange=*"))
	if err != nil {
		return nil, fmt.Errorf("list partitions %s: %w", dateDir, err)
	}
	sort.Strings(dirs)

	partitions := make([]Partition, 0, len(dirs))
	for _, dir := range dirs {
		files, err := PartFiles(dir)
		if err != nil {
			return nil, err
		}
		partitions = append(partitions, Partition{
			View:       view,
			Date:       calendar.Format(date),
			Underlying: strings.TrimPrefix(filepath.Base(filepath.Dir(dir)), "underlying="),
			Exchange:   strings.TrimPrefix(filepath.Base(dir), "exchange="),
			Dir:        dir,
			Files:      files,
		})
	}
	return partitions, nil
}

// PartFiles lists the part files of a partition directory in index order
func PartFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read partition %s: %w", dir, err)
	}

	type part struct {
		index int
		path  string
	}
	var parts []part
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if idx, ok := PartIndex(e.Name()); ok {
			parts = append(parts, part{idx, filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].index < parts[j].index })

	files := make([]string, 0, len(parts))
	for _, p := range parts {
		files = append(files, p.path)
	}
	return files, nil
}

// NextPartIndex returns one past the highest existing part index
func NextPartIndex(dir string) (int, error) {
	files, err := PartFiles(dir)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, nil
	}
	idx, _ := PartIndex(files[len(files)-1])
	return idx + 1, nil
}

// PartitionKey identifies a partition within a view
type PartitionKey struct {
	Date       time.Time
	Underlying string
	Exchange   string
}

// Key returns the partition key of p
func (p Partition) Key() PartitionKey {
	d, _ := calendar.Parse(p.Date)
	return PartitionKey{Date: d, Underlying: p.Underlying, Exchange: p.Exchange}
}
