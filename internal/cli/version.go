package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/lazypower/autodj/internal/store"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version, store schema and toolchain",
	Run: func(cmd *cobra.Command, args []string) {
		version, commit := buildIdentity()
		fmt.Fprintf(cmd.OutOrStdout(), "autodj %s (commit: %s, built: %s)\n", version, commit, BuildDate)
		fmt.Fprintf(cmd.OutOrStdout(), "store schema v%d, %s %s/%s\n",
			store.LatestSchemaVersion(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

// VersionString is reported by /api/health and the serve log. The schema
// version lets a client tell whether two builds share a score database layout.
func VersionString() string {
	version, commit := buildIdentity()
	return fmt.Sprintf("%s (%s, schema v%d)", version, commit, store.LatestSchemaVersion())
}

// buildIdentity prefers ldflags values and falls back to what `go install`
// stamps into the binary.
func buildIdentity() (version, commit string) {
	version, commit = Version, Commit
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version, commit
	}
	if version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
	if commit == "unknown" {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				commit = s.Value[:min(12, len(s.Value))]
			}
		}
	}
	return version, commit
}
