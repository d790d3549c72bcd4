// Package version holds build metadata, set at link time with
// -ldflags "-X github.com/sydlexius/bucketscope/internal/version.Version=...".
package version

import "runtime/debug"

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = ""
)

// Resolve fills unset fields from the embedded module build info, so
// `go install` builds still report a version.
func Resolve() (ver, commit, goVersion string) {
	ver, commit = Version, Commit
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ver, commit, ""
	}
	if ver == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		ver = info.Main.Version
	}
	if commit == "unknown" {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				commit = s.Value
				break
			}
		}
	}
	return ver, commit, info.GoVersion
}
