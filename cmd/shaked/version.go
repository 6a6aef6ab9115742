package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/chinaperrin/shaked/internal/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print CLI and (if reachable) daemon version information",
	Run: func(cmd *cobra.Command, args []string) {
		checkDaemon, _ := cmd.Flags().GetBool("daemon")

		if !checkDaemon {
			printVersion()
			return
		}

		c, err := connectAdmin()
		if err != nil {
			fatalf("%v", err)
		}
		st, err := c.Status()
		if err != nil {
			fatalf("status: %v", err)
		}

		if jsonOutput {
			outputJSON(map[string]string{
				"cli_version":    buildinfo.Version,
				"daemon_version": st.DaemonVersion,
			})
			return
		}

		fmt.Printf("shaked CLI v%s, daemon v%s\n", buildinfo.Version, st.DaemonVersion)
		if warn := versionCompatWarning(buildinfo.Version, st.DaemonVersion); warn != "" {
			fmt.Println(warn)
		}
	},
}

func init() {
	versionCmd.Flags().Bool("daemon", false, "also report the running daemon's version")
	rootCmd.AddCommand(versionCmd)
}

func printVersion() {
	if jsonOutput {
		outputJSON(map[string]string{
			"version": buildinfo.Version,
			"build":   buildinfo.Build,
			"commit":  buildinfo.Commit,
			"branch":  buildinfo.Branch,
		})
		return
	}
	if buildinfo.Commit != "" && buildinfo.Branch != "" {
		fmt.Printf("shaked version %s (%s: %s@%s)\n", buildinfo.Version, buildinfo.Build, buildinfo.Branch, buildinfo.Commit)
	} else {
		fmt.Printf("shaked version %s (%s)\n", buildinfo.Version, buildinfo.Build)
	}
}

// versionCompatWarning reports a non-fatal compatibility note when the CLI
// and daemon major versions diverge, or when the daemon is older than the
// CLI. Versions that are not valid semver produce no note.
func versionCompatWarning(cliVersion, daemonVersion string) string {
	cli, daemon := normalizeSemver(cliVersion), normalizeSemver(daemonVersion)
	if !semver.IsValid(cli) || !semver.IsValid(daemon) {
		return ""
	}
	if semver.Major(cli) != semver.Major(daemon) {
		return fmt.Sprintf("warning: CLI major version %s does not match daemon major version %s; upgrade one of them", semver.Major(cli), semver.Major(daemon))
	}
	if semver.Compare(daemon, cli) < 0 {
		return fmt.Sprintf("warning: daemon v%s is older than CLI v%s", daemonVersion, cliVersion)
	}
	return ""
}

func normalizeSemver(v string) string {
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}
