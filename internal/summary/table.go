package summary

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
)

// WriteTable renders the two newest smoothed points of every entry as a
// table, with the ratio between them beside the newest value.
func WriteTable(w io.Writer, entries []Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLATFORM\tAPPLICATION\tVARIANT\tTYPE\tPREVIOUS\tNEWEST")

	for _, e := range entries {
		prev, cur, ratio := newestPoints(e)
		newest := fmt.Sprintf("%.2f", cur)
		if ratio > 0 {
			newest += fmt.Sprintf(" (%.4f)", ratio)
		} else {
			newest += " (n/a)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
			e.Platform, e.App, e.Variant, e.Pageload, prev, newest)
	}
	return tw.Flush()
}

// WriteCSV saves the newest points in the same shape as the table.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"platform", "application", "variant", "type", "previous", "newest"}); err != nil {
		return fmt.Errorf("write summary csv: %w", err)
	}
	for _, e := range entries {
		prev, cur, _ := newestPoints(e)
		err := cw.Write([]string{
			e.Platform, e.App, e.Variant, e.Pageload,
			fmt.Sprintf("%.2f", prev), fmt.Sprintf("%.2f", cur),
		})
		if err != nil {
			return fmt.Errorf("write summary csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON saves the full series of every entry.
func WriteJSON(w io.Writer, entries []Entry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("write summary json: %w", err)
	}
	return nil
}

// newestPoints returns the last two smoothed values and their ratio.
// Entries with a single point repeat it, ratio 1.
func newestPoints(e Entry) (prev, cur, ratio float64) {
	ma := e.MovingAverage
	if len(ma) == 0 {
		return 0, 0, 0
	}
	cur = ma[len(ma)-1].Value
	prev = cur
	if len(ma) > 1 {
		prev = ma[len(ma)-2].Value
	}
	if prev > 0 {
		ratio = cur / prev
	}
	return prev, cur, ratio
}
