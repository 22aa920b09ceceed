package version

import (
	"runtime/debug"
	"testing"
)

func withBuildInfo(t *testing.T, bi *debug.BuildInfo) {
	t.Helper()
	prev := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
	t.Cleanup(func() { readBuildInfo = prev })
}

func withLinkerValues(t *testing.T, v, commit, built string) {
	t.Helper()
	pv, pc, pb := Version, Commit, BuildTime
	Version, Commit, BuildTime = v, commit, built
	t.Cleanup(func() { Version, Commit, BuildTime = pv, pc, pb })
}

// These tests swap package state and cannot run in parallel.

func TestResolveFromBuildInfo(t *testing.T) {
	withLinkerValues(t, "", "", "")
	withBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-03-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})

	info := Resolve()
	if info.Version != "v0.3.1" || info.BuildTime != "2026-03-01T10:00:00Z" || !info.Modified {
		t.Fatalf("unexpected info: %+v", info)
	}
	if got, want := String(), "v0.3.1 (0123456789ab-dirty)"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestResolveLinkerValuesWin(t *testing.T) {
	withLinkerValues(t, "1.0.0", "abc", "")
	withBuildInfo(t, &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "ffff"}},
	})

	if got, want := String(), "1.0.0 (abc)"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestResolveWithoutBuildInfo(t *testing.T) {
	withLinkerValues(t, "", "", "")
	withBuildInfo(t, nil)

	info := Resolve()
	if info.Version != "dev" || info.Commit != "" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if String() != "dev" {
		t.Fatalf("String() = %q", String())
	}
}
