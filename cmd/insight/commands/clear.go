package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// clearRemote also deletes the shared records.
	clearRemote bool

	// clearAccount wipes every trace of the user.
	clearAccount bool
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the cached insight of the user",
	Long: `Drop the user's insight from memory and the on-device store, as done on
sign-out. The shared records survive and are picked up again on the next
load unless --remote is given. --account removes everything, as done when
the account is deleted.`,
	RunE: runClear,
}

func init() {
	clearCmd.Flags().BoolVar(
		&clearRemote, "remote", false,
		"Also delete the user's records from the remote store",
	)
	clearCmd.Flags().BoolVar(
		&clearAccount, "account", false,
		"Delete every record of the user, including migration state",
	)
}

func runClear(cmd *cobra.Command, args []string) error {
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
	switch {
	case clearAccount:
		err = rt.svc.DeleteAccount(ctx, user)

	default:
		err = rt.svc.Clear(ctx, user, clearRemote)
	}
	if err != nil {
		return fmt.Errorf("clear insight: %w", err)
	}

	scope := "local"
	if clearRemote || clearAccount {
		scope = "local and remote"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s insights of %s\n", scope,
		user)

	return nil
}
