package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// 사람이 읽는 요약은 stderr, JSON 리포트는 stdout
// ═══════════════════════════════════════════════════════════

// JobMetadata describes a command run for its header
type JobMetadata struct {
	Command   string
	TradeDate string
	Slot      string // optional
	Symbols   []string
}

// printJobHeader prints a formatted job header
func printJobHeader(w io.Writer, meta JobMetadata) {
	fmt.Fprintln(w)
	printDoubleSeparator(w)
	fmt.Fprintf(w, "  %s\n", meta.Command)
	printSeparator(w)
	fmt.Fprintf(w, "  Trade date : %s\n", meta.TradeDate)
	if meta.Slot != "" {
		fmt.Fprintf(w, "  Slot       : %s\n", meta.Slot)
	}
	if len(meta.Symbols) > 0 {
		fmt.Fprintf(w, "  Symbols    : %s\n", strings.Join(meta.Symbols, ", "))
	}
	printSeparator(w)
}

func printSeparator(w io.Writer) {
	fmt.Fprintln(w, "───────────────────────────────────────────────────────────")
}

func printDoubleSeparator(w io.Writer) {
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
}

func printSuccess(w io.Writer, message string) {
	fmt.Fprintf(w, "✅ %s\n", message)
}

func printWarning(w io.Writer, message string) {
	fmt.Fprintf(w, "⚠️  %s\n", message)
}

func printKeyValue(w io.Writer, key, value string, keyWidth int) {
	fmt.Fprintf(w, "   %-*s : %s\n", keyWidth, key, value)
}

// printTable prints a header, a rule and the rows
func printTable(w io.Writer, columns []string, widths []int, rows [][]string) {
	printRow(w, columns, widths)
	total := 0
	for i, width := range widths {
		total += width
		if i < len(widths)-1 {
			total += 2
		}
	}
	fmt.Fprintln(w, strings.Repeat("─", total))
	for _, r := range rows {
		printRow(w, r, widths)
	}
}

func printRow(w io.Writer, values []string, widths []int) {
	for i, v := range values {
		fmt.Fprintf(w, "%-*s", widths[i], v)
		if i < len(values)-1 {
			fmt.Fprint(w, "  ")
		}
	}
	fmt.Fprintln(w)
}

// printJSON writes the structured report
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
