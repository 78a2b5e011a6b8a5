package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// loadEntries is the JSON entries file, "-" for stdin.
	loadEntries string

	// loadForce generates even when the milestone already has a record.
	loadForce bool
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load or generate the insight for a set of entries",
	Long: `Load the insight for the user's live journal entries.

The entries file is a JSON array of objects with id, date, title, content,
wordCount and mood fields. An insight is generated when the entry count is
at a milestone that has no record yet. With --force the milestone check is
bypassed and the summarization service is asked to skip its own cache.`,
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().StringVar(
		&loadEntries, "entries", "-",
		"JSON file with the user's entries (- for stdin)",
	)
	loadCmd.Flags().BoolVar(
		&loadForce, "force", false,
		"Generate a new insight regardless of the milestone",
	)
}

func runLoad(cmd *cobra.Command, args []string) error {
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

	entries, err := readEntries(loadEntries)
	if err != nil {
		return err
	}

	rt, err := openRuntime(cfg, runtimeOpts{})
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	if loadForce {
		res, err := rt.svc.Generate(ctx, user, entries, true)
		if err != nil {
			return fmt.Errorf("generate insight: %w", err)
		}

		return writeLoadResult(cmd.OutOrStdout(), outputFormat, res)
	}

	res, err := rt.svc.LoadOrGenerate(ctx, user, entries)
	if err != nil {
		return fmt.Errorf("load insight: %w", err)
	}

	return writeLoadResult(cmd.OutOrStdout(), outputFormat, res)
}
