package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/spf13/cobra"

	"github.com/roasbeef/insightd/internal/insight"
)

var (
	// showEntryCount is the live entry count, -1 when unknown.
	showEntryCount int

	// showHistory lists every stored milestone instead.
	showHistory bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the cached insight of the user",
	Long: `Show the freshest cached insight of the user without generating one.

With --entry-count the record matching that count's milestone is preferred,
falling back to the newest earlier milestone. With --history every stored
milestone is listed from the remote store.`,
	RunE: runShow,
}

func init() {
	showCmd.Flags().IntVar(
		&showEntryCount, "entry-count", -1,
		"Live entry count of the user (-1 when unknown)",
	)
	showCmd.Flags().BoolVar(
		&showHistory, "history", false,
		"List every stored milestone",
	)
}

func runShow(cmd *cobra.Command, args []string) error {
	if err := checkFormat(outputFormat); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	user, err := requireUser(cfg)
	if err != nil {
		return err
	}

	rt, err := openRuntime(cfg, runtimeOpts{})
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if showHistory {
		records, err := rt.remote.ListInsights(ctx, user)
		if err != nil {
			return fmt.Errorf("list insights: %w", err)
		}

		return writeHistory(out, outputFormat, records)
	}

	rec, err := rt.svc.Get(ctx, user, showEntryCount)
	if err != nil {
		return fmt.Errorf("get insight: %w", err)
	}

	return writeOptionalRecord(out, outputFormat, rec)
}

func writeOptionalRecord(w io.Writer, format string,
	rec fn.Option[insight.Record]) error {

	r := optionPtr(rec)
	if r == nil {
		if format == formatJSON {
			return writeJSON(w, map[string]any{"found": false})
		}
		_, err := fmt.Fprintln(w, "No insight yet.")

		return err
	}

	return writeRecord(w, format, *r)
}

// writeHistory prints one line per stored milestone.
func writeHistory(w io.Writer, format string,
	records []insight.Record) error {

	if format == formatJSON {
		if records == nil {
			records = []insight.Record{}
		}

		return writeJSON(w, records)
	}

	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No insights stored.")
		return err
	}

	for _, r := range records {
		fmt.Fprintf(w, "%4d  %s  %s\n", r.Milestone,
			r.GeneratedAt.Format(time.DateTime), r.Summary)
	}

	return nil
}
