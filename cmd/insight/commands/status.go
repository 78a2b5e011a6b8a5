package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statusEntryCount is the live entry count, -1 when unknown.
var statusEntryCount int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cache state of the user",
	Long: `Probe the cache tiers for the user and print the resulting state:
unloaded, probing, current, stale or generating, plus the last failure.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(
		&statusEntryCount, "entry-count", -1,
		"Live entry count of the user (-1 when unknown)",
	)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	// A fresh process has nothing in memory, so probe the tiers first.
	// Probe failures are part of the snapshot.
	_, err = rt.svc.Get(cmd.Context(), user, statusEntryCount)
	if err != nil {
		return fmt.Errorf("probe insight: %w", err)
	}

	return writeStatus(cmd.OutOrStdout(), outputFormat, rt.svc.Status(user))
}
