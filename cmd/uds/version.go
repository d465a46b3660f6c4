package main

import (
	"fmt"
	"io"
	"runtime/debug"

	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the module, version and VCS state of this binary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, ok := debug.ReadBuildInfo()
			if !ok {
				return fmt.Errorf("binary was built without module support")
			}
			return printVersion(cmd.OutOrStdout(), info)
		},
	}
}

// printVersion writes one "key: value" line per known build fact.
func printVersion(w io.Writer, info *debug.BuildInfo) error {
	v := info.Main.Version
	if v == "" || v == "(devel)" {
		v = "devel"
	}
	lines := [][2]string{
		{"module", info.Main.Path},
		{"version", v},
		{"go", info.GoVersion},
	}
	vcs := map[string]string{}
	for _, s := range info.Settings {
		vcs[s.Key] = s.Value
	}
	if rev := vcs["vcs.revision"]; rev != "" {
		if vcs["vcs.modified"] == "true" {
			rev += "+dirty"
		}
		lines = append(lines, [2]string{"commit", rev})
	}
	if t := vcs["vcs.time"]; t != "" {
		lines = append(lines, [2]string{"committed", t})
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%-10s %s\n", l[0]+":", l[1]); err != nil {
			return err
		}
	}
	return nil
}
