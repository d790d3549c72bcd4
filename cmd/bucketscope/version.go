package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sydlexius/bucketscope/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		ver, commit, goVersion := version.Resolve()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "bucketscope: %s\n", ver)
		fmt.Fprintf(out, "commit:      %s\n", commit)
		if version.Date != "" {
			fmt.Fprintf(out, "date:        %s\n", version.Date)
		}
		fmt.Fprintf(out, "go:          %s\n", goVersion)
	},
}
