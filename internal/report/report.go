// Package report renders finished runs: a terminal summary and CSV exports
// of negotiation outcomes and full transcripts.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/bazaar/internal/board"
	"github.com/talgya/bazaar/internal/engine"
)

// SummaryHeader is the first row of a summary export.
var SummaryHeader = []string{"Negotiation ID", "Type", "Supplier ID", "Buyer ID", "Company", "State", "Final Price", "Messages"}

// TranscriptHeader is the first row of a transcript export.
var TranscriptHeader = []string{"Negotiation ID", "Message Number", "Sender ID", "Price", "State", "Company"}

func price(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}

// WriteSummary writes one row per negotiation.
func WriteSummary(w io.Writer, negotiations []engine.Negotiation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SummaryHeader); err != nil {
		return err
	}
	for _, n := range negotiations {
		row := []string{
			n.ID, string(n.Kind), n.Supplier, n.Buyer, n.Company,
			string(n.Status), price(n.Price), strconv.Itoa(n.Messages),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTranscript writes every message of the given negotiations in order.
func WriteTranscript(w io.Writer, log *board.Log, ids []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TranscriptHeader); err != nil {
		return err
	}
	for _, id := range ids {
		for _, m := range log.All(id) {
			row := []string{
				m.NegotiationID, strconv.Itoa(m.Sequence), m.SenderID,
				price(m.Price), string(m.State), m.Company,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeFile creates path and hands it to write.
func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// WriteSummaryFile writes the summary export to path.
func WriteSummaryFile(path string, res *engine.Result) error {
	return writeFile(path, func(w io.Writer) error {
		return WriteSummary(w, res.Negotiations)
	})
}

// WriteTranscriptFile writes the transcript export of a run to path.
func WriteTranscriptFile(path string, res *engine.Result, log *board.Log) error {
	ids := make([]string, len(res.Negotiations))
	for i, n := range res.Negotiations {
		ids[i] = n.ID
	}
	return writeFile(path, func(w io.Writer) error {
		return WriteTranscript(w, log, ids)
	})
}

func money(v float64) string {
	return "$" + humanize.FormatFloat("#,###.##", v)
}

// FormatReport produces a terminal-friendly summary of a run.
func FormatReport(res *engine.Result) string {
	st := res.Stats
	var b strings.Builder
	b.WriteString("========================================\n")
	b.WriteString("  Negotiation Run Report\n")
	b.WriteString("========================================\n")
	b.WriteString("\n")
	fmt.Fprintf(&b, "Run:          %s\n", res.RunID)
	if !res.Finished.IsZero() {
		fmt.Fprintf(&b, "Duration:     %s\n", res.Finished.Sub(res.Started).Round(time.Millisecond))
	}
	if res.TimedOut {
		b.WriteString("Status:       stopped at the timeout\n")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Negotiations: %s total\n", humanize.Comma(int64(st.Total)))
	fmt.Fprintf(&b, "  Accepted:   %s (%.1f%%)\n", humanize.Comma(int64(st.Accepted)), st.AcceptedPct())
	fmt.Fprintf(&b, "  Aborted:    %s (%.1f%%)\n", humanize.Comma(int64(st.Aborted)), st.AbortedPct())
	fmt.Fprintf(&b, "  Timed out:  %s (%.1f%%)\n", humanize.Comma(int64(st.TimedOut)), st.TimedOutPct())
	if st.Unfinished > 0 {
		fmt.Fprintf(&b, "  Unfinished: %s\n", humanize.Comma(int64(st.Unfinished)))
	}
	if st.OneToCoalition > 0 {
		fmt.Fprintf(&b, "  One-to-one: %s, with a coalition: %s\n",
			humanize.Comma(int64(st.OneToOne)), humanize.Comma(int64(st.OneToCoalition)))
	}
	b.WriteString("\n")
	if st.Accepted > 0 {
		fmt.Fprintf(&b, "Price:        avg %s, min %s, max %s\n", money(st.AvgPrice), money(st.MinPrice), money(st.MaxPrice))
		b.WriteString("\n")
	}
	if len(res.Inventory) > 0 {
		b.WriteString("Tickets:\n")
		for _, inv := range res.Inventory {
			left := "unlimited"
			if !inv.Unlimited() {
				left = fmt.Sprintf("%s of %s remaining", humanize.Comma(int64(inv.Remaining)), humanize.Comma(int64(inv.Tickets)))
			}
			fmt.Fprintf(&b, "  %-12s %-28s sold %s, %s\n", inv.AgentID, inv.Company, humanize.Comma(int64(inv.Sold)), left)
		}
		b.WriteString("\n")
	}
	if len(res.Faults) > 0 {
		fmt.Fprintf(&b, "Faults:       %d\n", len(res.Faults))
		for _, f := range res.Faults {
			fmt.Fprintf(&b, "  - %s: %v\n", f.AgentID, f.Err)
		}
		b.WriteString("\n")
	}
	b.WriteString("========================================\n")
	return b.String()
}
