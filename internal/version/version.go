// Package version reports build metadata for logs, the CLI and the
// User-Agent sent to the weather APIs.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set via ldflags at build time:
//
//	go build -ldflags "-X github.com/soyeahso/chatterbox/internal/version.Version=1.0.0
//	  -X github.com/soyeahso/chatterbox/internal/version.Commit=abc123
//	  -X github.com/soyeahso/chatterbox/internal/version.Date=2026-01-01"
//
// Without ldflags, values are filled from the module and VCS stamps that
// `go install` embeds.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func init() {
	if bi, ok := debug.ReadBuildInfo(); ok {
		Version, Commit, Date = fromBuildInfo(bi, Version, Commit, Date)
	}
}

// fromBuildInfo fills values still at their defaults from bi.
func fromBuildInfo(bi *debug.BuildInfo, version, commit, date string) (string, string, string) {
	if version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		version = bi.Main.Version
	}
	dirty := false
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if commit == "unknown" {
				commit = s.Value
			}
		case "vcs.time":
			if date == "unknown" {
				date = s.Value
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if dirty && commit != "unknown" {
		commit += "-dirty"
	}
	return version, commit, date
}

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("chatterbox %s (commit: %s, built: %s, %s/%s)",
		Version, short(Commit), Date, runtime.GOOS, runtime.GOARCH)
}

// short trims a commit hash to 7 characters, keeping a -dirty suffix.
func short(s string) string {
	const suffix = "-dirty"
	if len(s) > len(suffix) && s[len(s)-len(suffix):] == suffix {
		return short(s[:len(s)-len(suffix)]) + suffix
	}
	if len(s) > 7 {
		return s[:7]
	}
	return s
}

// UserAgent returns the User-Agent header value for outbound HTTP requests.
func UserAgent() string {
	return "chatterbox/" + Version + " (+https://github.com/soyeahso/chatterbox)"
}
