package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roasbeef/insightd/internal/insight"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move the pre-account insight to the user",
	Long: `Move the insight stored before records were kept per user to the given
user. The move runs at most once per installation; later runs report
"skipped".`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
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

	res, err := rt.svc.MigrateLegacy(cmd.Context(), user)
	if err != nil {
		return fmt.Errorf("migrate legacy insight: %w", err)
	}

	if outputFormat == formatJSON {
		return writeJSON(cmd.OutOrStdout(), struct {
			Outcome string          `json:"outcome"`
			Insight *insight.Record `json:"insight,omitempty"`
		}{res.Outcome.String(), optionPtr(res.Record)})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Migration: %s\n", res.Outcome)
	res.Record.WhenSome(func(r insight.Record) {
		fmt.Fprintf(cmd.OutOrStdout(), "Moved to milestone %d of %s\n",
			r.Milestone, r.UserID)
	})

	return nil
}
