package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/herdteam/herd/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		goVer := version.GoVersion
		if goVer == "" {
			goVer = runtime.Version()
		}
		w := cmd.OutOrStdout()
		for _, line := range []string{
			fmt.Sprintf("herd %s", version.Version),
			fmt.Sprintf("  commit:  %s", version.Commit),
			fmt.Sprintf("  built:   %s", version.Date),
			fmt.Sprintf("  go:      %s", goVer),
			fmt.Sprintf("  os/arch: %s/%s", runtime.GOOS, runtime.GOARCH),
		} {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
