package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/roasbeef/insightd/internal/insight"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatHTML = "html"
)

// checkFormat rejects unknown output formats before any work is done.
func checkFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatHTML:
		return nil
	default:
		return fmt.Errorf("unknown format %q (text, json, html)", format)
	}
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// recordMarkdown renders a record as a markdown report.
func recordMarkdown(rec insight.Record) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n\n", rec.Summary)
	if rec.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", rec.Description)
	}

	if len(rec.Themes) > 0 {
		sb.WriteString("## Themes\n\n")
		for _, t := range rec.Themes {
			if t.Detail != "" {
				fmt.Fprintf(&sb, "- **%s**: %s\n", t.Name, t.Detail)
			} else {
				fmt.Fprintf(&sb, "- **%s**\n", t.Name)
			}
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "_Milestone %d, %d entries analyzed, generated %s._\n",
		rec.Milestone, rec.EntriesAnalyzed,
		rec.GeneratedAt.Format(time.RFC1123))

	return sb.String()
}

// renderHTML converts markdown to HTML.
func renderHTML(markdown string) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))

	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}

	return buf.String(), nil
}

// formatRecordText formats a record for the terminal.
func formatRecordText(rec insight.Record) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Insight %s (milestone %d)\n", rec.ID,
		rec.Milestone))
	sb.WriteString(strings.Repeat("=", 60) + "\n")
	sb.WriteString(rec.Summary + "\n")
	sb.WriteString(strings.Repeat("-", 60) + "\n")

	if rec.Description != "" {
		sb.WriteString(rec.Description + "\n\n")
	}
	for _, t := range rec.Themes {
		if t.Detail != "" {
			sb.WriteString(fmt.Sprintf("  * %s: %s\n", t.Name, t.Detail))
		} else {
			sb.WriteString(fmt.Sprintf("  * %s\n", t.Name))
		}
	}

	sb.WriteString(fmt.Sprintf("Entries analyzed: %d\n",
		rec.EntriesAnalyzed))
	sb.WriteString(fmt.Sprintf("Generated: %s\n",
		rec.GeneratedAt.Format(time.RFC3339)))
	if rec.FromCache {
		sb.WriteString("Served from the summarization cache\n")
	}

	return sb.String()
}

// writeRecord prints a record in the chosen format.
func writeRecord(w io.Writer, format string, rec insight.Record) error {
	switch format {
	case formatJSON:
		return writeJSON(w, rec)

	case formatHTML:
		html, err := renderHTML(recordMarkdown(rec))
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, html)

		return err

	default:
		_, err := io.WriteString(w, formatRecordText(rec))
		return err
	}
}

// loadOutput is the JSON shape of a load result.
type loadOutput struct {
	Status        string          `json:"status"`
	Milestone     int             `json:"milestone"`
	EntriesNeeded int             `json:"entriesNeeded,omitempty"`
	Insight       *insight.Record `json:"insight,omitempty"`
	Warning       string          `json:"warning,omitempty"`
}

func optionPtr(o fn.Option[insight.Record]) *insight.Record {
	var out *insight.Record
	o.WhenSome(func(r insight.Record) {
		out = &r
	})

	return out
}

// writeLoadResult prints the outcome of a load.
func writeLoadResult(w io.Writer, format string,
	res insight.LoadResult) error {

	out := loadOutput{
		Status:        res.Status.String(),
		Milestone:     res.Milestone,
		EntriesNeeded: res.EntriesNeeded,
		Insight:       optionPtr(res.Record),
	}
	if res.Err != nil {
		out.Warning = res.Err.Error()
	}

	if format == formatJSON {
		return writeJSON(w, out)
	}

	switch res.Status {
	case insight.StatusPending:
		fmt.Fprintf(w, "Write %d more entries to unlock your first "+
			"insight.\n", res.EntriesNeeded)

	case insight.StatusGenerating:
		fmt.Fprintln(w, "An insight is being generated.")

	case insight.StatusStale:
		fmt.Fprintf(w, "Showing an earlier insight; the next one "+
			"arrives at %d entries.\n", res.Milestone)
	}
	if out.Warning != "" {
		fmt.Fprintf(w, "Warning: %s\n", out.Warning)
	}

	if out.Insight == nil {
		return nil
	}

	return writeRecord(w, format, *out.Insight)
}

// statusOutput is the JSON shape of a status snapshot.
type statusOutput struct {
	UserID     string `json:"userId"`
	State      string `json:"state"`
	EntryCount int    `json:"entryCount"`
	Milestone  int    `json:"milestone,omitempty"`
	RecordID   string `json:"recordId,omitempty"`
	LastError  string `json:"lastError,omitempty"`
}

func newStatusOutput(snap insight.Snapshot) statusOutput {
	out := statusOutput{
		UserID:     snap.UserID,
		State:      snap.State.String(),
		EntryCount: snap.EntryCount,
	}
	snap.Record.WhenSome(func(r insight.Record) {
		out.Milestone = r.Milestone
		out.RecordID = r.ID
	})
	if snap.LastErr != nil {
		out.LastError = snap.LastErr.Error()
	}

	return out
}

// writeStatus prints a status snapshot.
func writeStatus(w io.Writer, format string, snap insight.Snapshot) error {
	out := newStatusOutput(snap)
	if format == formatJSON {
		return writeJSON(w, out)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("User: %s\n", out.UserID))
	sb.WriteString(strings.Repeat("-", 40) + "\n")
	sb.WriteString(fmt.Sprintf("State: %s\n", out.State))
	if out.EntryCount >= 0 {
		sb.WriteString(fmt.Sprintf("Entries: %d\n", out.EntryCount))
	}
	if out.RecordID != "" {
		sb.WriteString(fmt.Sprintf("Record: %s (milestone %d)\n",
			out.RecordID, out.Milestone))
	}
	if out.LastError != "" {
		sb.WriteString(fmt.Sprintf("Last error: %s\n", out.LastError))
	}

	_, err := io.WriteString(w, sb.String())

	return err
}
