// Package version holds build information stamped in with -ldflags -X.
package version //nolint:revive // package name intentionally matches build-info convention

import (
	"fmt"
	"runtime/debug"
)

//nolint:gochecknoglobals //version information is set at build time
var (
	Version = "dev"
	Commit  string
	Date    string
)

// String describes the build, using the module build info when nothing was stamped.
func String() string {
	v, commit := Version, Commit
	if info, ok := debug.ReadBuildInfo(); ok {
		if v == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && commit == "" {
				commit = s.Value
			}
		}
	}

	if commit == "" {
		return v
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if Date == "" {
		return fmt.Sprintf("%s (%s)", v, commit)
	}
	return fmt.Sprintf("%s (%s, %s)", v, commit, Date)
}
