package universe

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wonny/optchain/internal/contracts"
)

// Load reads a universe CSV (header "symbol,conid", '#' comments allowed)
// ⭐ SSOT: 유니버스 파일 파싱은 여기서만
func Load(path string) (*contracts.Universe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open universe: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse decodes universe CSV content
func Parse(r io.Reader) (*contracts.Universe, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse universe: %w", err)
	}
	if len(records) == 0 {
		return &contracts.Universe{}, nil
	}

	header := records[0]
	symCol, idCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "symbol":
			symCol = i
		case "conid", "contract_id":
			idCol = i
		}
	}
	if symCol < 0 {
		return nil, fmt.Errorf("parse universe: missing symbol column")
	}

	u := &contracts.Universe{}
	seen := make(map[string]bool)
	for n, rec := range records[1:] {
		if symCol >= len(rec) {
			continue
		}
		sym := NormalizeSymbol(rec[symCol])
		if sym == "" || seen[sym] {
			continue
		}

		entry := contracts.UniverseEntry{Symbol: sym}
		if idCol >= 0 && idCol < len(rec) {
			raw := strings.TrimSpace(rec[idCol])
			if raw != "" {
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("parse universe line %d: conid %q: %w", n+2, raw, err)
				}
				entry.ContractID = id
			}
		}

		seen[sym] = true
		u.Entries = append(u.Entries, entry)
	}

	return u, nil
}

// NormalizeSymbol upper-cases and strips non-ASCII / whitespace
func NormalizeSymbol(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if r > 127 || r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// Save writes the universe back as CSV (temp + rename)
func Save(path string, u *contracts.Universe) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"symbol", "conid"}); err != nil {
		return err
	}
	for _, e := range u.Entries {
		id := ""
		if e.ContractID != 0 {
			id = strconv.FormatInt(e.ContractID, 10)
		}
		if err := w.Write([]string{e.Symbol, id}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode universe: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create universe dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write universe: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write universe: %w", err)
	}
	return nil
}

// Backfill fills empty conids and saves the file when anything changed
func Backfill(path string, resolved map[string]int64) (int, error) {
	u, err := Load(path)
	if err != nil {
		return 0, err
	}
	changed := u.BackfillContractIDs(resolved)
	if changed == 0 {
		return 0, nil
	}
	if err := Save(path, u); err != nil {
		return 0, err
	}
	return changed, nil
}
