package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func stubBuild(t *testing.T, appVersion, commit, buildTime string, build *debug.BuildInfo) {
	t.Helper()
	oldVersion, oldCommit, oldBuildTime, oldRead := AppVersion, GitCommit, BuildTime, readBuildInfo
	t.Cleanup(func() {
		AppVersion, GitCommit, BuildTime, readBuildInfo = oldVersion, oldCommit, oldBuildTime, oldRead
	})
	AppVersion, GitCommit, BuildTime = appVersion, commit, buildTime
	readBuildInfo = func() (*debug.BuildInfo, bool) { return build, build != nil }
}

func TestCurrent_Defaults(t *testing.T) {
	stubBuild(t, "", "", "", nil)

	info := Current("")
	if info.Service != Unknown {
		t.Fatalf("expected service %q, got %q", Unknown, info.Service)
	}
	if info.Version != DevelopmentVersion {
		t.Fatalf("expected version %q, got %q", DevelopmentVersion, info.Version)
	}
	if info.Commit != Unknown || info.BuildTime != Unknown {
		t.Fatalf("expected unknown commit and build time, got %+v", info)
	}
	if info.GoVersion == "" {
		t.Fatal("expected go version")
	}
}

func TestCurrent_FallsBackToVCSStamp(t *testing.T) {
	stubBuild(t, "v1.4.0", "", "", &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "abc123"},
		{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
	}})

	info := Current("nimqueue")
	if info.Commit != "abc123" || info.BuildTime != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected vcs fallback %+v", info)
	}
	if info.Version != "v1.4.0" {
		t.Fatalf("expected ldflags version, got %q", info.Version)
	}
}

func TestCurrent_LinkerFlagsWin(t *testing.T) {
	stubBuild(t, "v2.0.0", "deadbeef", "2026-05-01T00:00:00Z", &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "abc123"},
	}})

	info := Current("nimqueue")
	if info.Commit != "deadbeef" || info.BuildTime != "2026-05-01T00:00:00Z" {
		t.Fatalf("expected linker values, got %+v", info)
	}
	if !strings.HasPrefix(info.String(), "nimqueue@v2.0.0 (commit=deadbeef") {
		t.Fatalf("unexpected string %q", info.String())
	}
}
