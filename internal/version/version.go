package version

import (
	"fmt"
	"runtime"
	"time"
)

// Set at build time with -ldflags "-X .../internal/version.Version=..."
var (
	Version   = "dev"
	BuildTime = "unknown"
	CommitID  = "unknown"
)

// ProtocolVersion is the settings channel protocol spoken by this build.
const ProtocolVersion = "1"

func formatBuildTime() string {
	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return BuildTime
	}
	return t.Format("Mon Jan 2 15:04:05 2006")
}

// Info returns build and runtime information keyed for display.
func Info() map[string]string {
	return map[string]string{
		"Version":       Version,
		"Protocol":      ProtocolVersion,
		"GoVersion":     runtime.Version(),
		"GitCommit":     CommitID,
		"BuildTime":     BuildTime,
		"FormattedTime": formatBuildTime(),
		"OS":            runtime.GOOS,
		"Arch":          runtime.GOARCH,
	}
}

// Short is the one-line form printed by --version.
func Short() string {
	return fmt.Sprintf("headunit version %s, build %s", Version, CommitID)
}
