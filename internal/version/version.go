// Package version formats build metadata for the command line tools.
package version

import (
	"runtime/debug"
	"strings"
)

// Info is the build identity, usually injected with -ldflags.
type Info struct {
	Version string
	Commit  string
	Date    string
}

// Resolve fills unset or placeholder fields from the Go module build info.
func (i Info) Resolve() Info {
	out := Info{
		Version: strings.TrimSpace(i.Version),
		Commit:  strings.TrimSpace(i.Commit),
		Date:    strings.TrimSpace(i.Date),
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if placeholder(out.Version, "dev", "(devel)") {
			if mv := strings.TrimSpace(info.Main.Version); mv != "" && mv != "(devel)" {
				out.Version = mv
			}
		}
		if placeholder(out.Commit, "unknown") {
			out.Commit = buildSetting(info, "vcs.revision")
		}
		if placeholder(out.Date, "unknown") {
			out.Date = buildSetting(info, "vcs.time")
		}
	}
	if placeholder(out.Version, "(devel)") {
		out.Version = "dev"
	}
	if placeholder(out.Commit, "unknown") {
		out.Commit = ""
	}
	if placeholder(out.Date, "unknown") {
		out.Date = ""
	}
	return out
}

// String is "version (commit) date", omitting unknown parts.
func (i Info) String() string {
	r := i.Resolve()
	out := r.Version
	if r.Commit != "" {
		out += " (" + r.Commit + ")"
	}
	if r.Date != "" {
		out += " " + r.Date
	}
	return out
}

// UserAgent is sent with the WebSocket handshake.
func (i Info) UserAgent(app string) string {
	return app + "/" + i.Resolve().Version
}

func placeholder(v string, extra ...string) bool {
	if v == "" {
		return true
	}
	for _, p := range extra {
		if v == p {
			return true
		}
	}
	return false
}

func buildSetting(info *debug.BuildInfo, key string) string {
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
