package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roasbeef/insightd/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Run:   runVersion,
}

func runVersion(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "insight version %s", build.Version())

	if commit := build.CommitHash(); commit != "" {
		fmt.Fprintf(out, " commit=%s", commit)
	}
	if v := build.GoVersion(); v != "" {
		fmt.Fprintf(out, " go=%s", v)
	}
	if build.RawTags != "" {
		fmt.Fprintf(out, " tags=%s", build.RawTags)
	}

	fmt.Fprintln(out)
}
