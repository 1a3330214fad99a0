package main

import (
	"runtime"
	"runtime/debug"
	"strings"
)

// 通过 -ldflags "-X main.buildVersion=..." 注入。
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
)

type buildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Runtime string `json:"runtime"`
}

func readVCS() (revision string, modified bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return "", false
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = strings.TrimSpace(s.Value)
		case "vcs.modified":
			modified = strings.TrimSpace(s.Value) == "true"
		}
	}
	return revision, modified
}

func shortCommit(revision string) string {
	revision = strings.TrimSpace(revision)
	if len(revision) > 12 {
		return revision[:12]
	}
	return revision
}

// currentBuildInfo ldflags 未注入时回退到 go build 记录的 VCS 信息。
func currentBuildInfo() buildInfo {
	rev, dirty := readVCS()
	suffix := ""
	if dirty {
		suffix = "-dirty"
	}

	version := strings.TrimSpace(buildVersion)
	if version == "" || version == "dev" {
		version = "dev"
		if rev != "" {
			version = "dev+" + shortCommit(rev) + suffix
		}
	}
	commit := strings.TrimSpace(buildCommit)
	if commit == "" || commit == "unknown" {
		commit = "unknown"
		if rev != "" {
			commit = shortCommit(rev) + suffix
		}
	}
	return buildInfo{Version: version, Commit: commit, Runtime: runtime.GOOS + "/" + runtime.GOARCH}
}
