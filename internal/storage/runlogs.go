package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wonny/optchain/internal/calendar"
)

// Run log kinds
const (
	RunKindSnapshot   = "snapshot"
	RunKindRollup     = "rollup"
	RunKindEnrichment = "enrichment"
	RunKindQA         = "qa"
	RunKindSelfcheck  = "selfcheck"
	RunKindSchedule   = "schedule"
	RunKindCompaction = "compaction"
)

// RunLogs persists structured JSON reports under <state>/run_logs/<kind>/
type RunLogs struct {
	dir string
}

// NewRunLogs creates a run log store rooted at <state>/run_logs
func NewRunLogs(layout Layout) *RunLogs {
	return &RunLogs{dir: layout.RunLogDir()}
}

// Dir returns the directory of one kind
func (r *RunLogs) Dir(kind string) string {
	return filepath.Join(r.dir, kind)
}

// Name builds <kind>_<YYYYMMDD>[_<suffix>]
func Name(kind string, date time.Time, suffix string) string {
	name := kind + "_" + calendar.Compact(date)
	if suffix != "" {
		name += "_" + strings.ReplaceAll(suffix, ":", "")
	}
	return name
}

// Write stores v as <kind>/<name>.json (temp + rename)
func (r *RunLogs) Write(kind, name string, v interface{}) (string, error) {
	dir := r.Dir(kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run log dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run log: %w", err)
	}

	path := filepath.Join(dir, name+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", &WriteError{Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", &WriteError{Path: path, Err: err}
	}
	return path, nil
}

// Read decodes <kind>/<name>.json into v
func (r *RunLogs) Read(kind, name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(r.Dir(kind), name+".json"))
	if err != nil {
		return fmt.Errorf("read run log %s/%s: %w", kind, name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode run log %s/%s: %w", kind, name, err)
	}
	return nil
}

// List returns the run log names of a kind, newest first
func (r *RunLogs) List(kind string) ([]string, error) {
	entries, err := os.ReadDir(r.Dir(kind))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list run logs %s: %w", kind, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}
