// Package version reports the build of the running binary.
//
// The commit comes from -ldflags when set, then from the VCS stamp in
// debug.BuildInfo, and is "dev" otherwise.
package version

import (
	"runtime"
	"runtime/debug"
)

// AppName prefixes version strings and outbound User-Agent headers.
const AppName = "omnidesk"

// Set with -ldflags "-X github.com/omnidesk/omnidesk/pkg/version.gitCommitOverride=..."
// for container builds that have no .git directory.
var gitCommitOverride string

// GitCommit is the short (8 char) commit of the build, or "dev".
var GitCommit = initGitCommit()

// Info is the build description printed by `omnidesk version`.
type Info struct {
	App       string `json:"app"`
	Commit    string `json:"commit"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
}

func initGitCommit() string {
	if gitCommitOverride != "" {
		return short(gitCommitOverride)
	}
	if rev, ok := setting("vcs.revision"); ok {
		return short(rev)
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

func setting(key string) (string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range info.Settings {
		if s.Key == key && s.Value != "" {
			return s.Value, true
		}
	}
	return "", false
}

// Get returns the build description.
func Get() Info {
	modified, _ := setting("vcs.modified")
	return Info{
		App:       AppName,
		Commit:    GitCommit,
		Modified:  modified == "true",
		GoVersion: runtime.Version(),
	}
}

// Full returns "omnidesk/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
