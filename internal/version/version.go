// Package version carries build metadata set with -ldflags -X. Values left
// unset are filled from the module build info when the binary has it.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info is the resolved build metadata.
type Info struct {
	Version   string
	Commit    string
	BuildDate string
	GoVersion string
	Modified  bool
}

// Get resolves the build metadata, preferring the -ldflags values.
func Get() Info {
	bi, _ := debug.ReadBuildInfo()
	return resolve(Version, Commit, BuildDate, bi)
}

func resolve(ver, commit, date string, bi *debug.BuildInfo) Info {
	info := Info{Version: ver, Commit: commit, BuildDate: date}
	if bi == nil {
		return info
	}
	info.GoVersion = bi.GoVersion
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" {
				info.Commit = shortRevision(s.Value)
			}
		case "vcs.time":
			if info.BuildDate == "unknown" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// String formats the metadata for --version.
func (i Info) String() string {
	commit := i.Commit
	if i.Modified {
		commit += "-dirty"
	}
	s := fmt.Sprintf("%s (commit: %s, built: %s", i.Version, commit, i.BuildDate)
	if i.GoVersion != "" {
		s += ", " + i.GoVersion
	}
	return s + ")"
}

// String formats the resolved metadata for --version.
func String() string {
	return Get().String()
}
