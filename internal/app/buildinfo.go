package app

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"
)

var (
	// Version is filled by ldflags in release builds.
	Version = "dev"
	// BuildDate is filled by ldflags in release builds.
	BuildDate = ""
)

// BuildInfo identifies the running binary in logs, metrics and -version output.
type BuildInfo struct {
	Version   string
	Date      string
	GoVersion string
}

func CurrentBuild() BuildInfo {
	return BuildInfo{
		Version:   buildVersion(),
		Date:      buildDateYMD(),
		GoVersion: runtime.Version(),
	}
}

func (b BuildInfo) String() string {
	if b.Date != "" {
		return fmt.Sprintf("%s %s (%s, %s)", Name, b.Version, b.Date, b.GoVersion)
	}

	return fmt.Sprintf("%s %s (%s)", Name, b.Version, b.GoVersion)
}

func (b BuildInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", b.Version),
		slog.String("date", b.Date),
		slog.String("go", b.GoVersion),
	)
}

func buildVersion() string {
	version := strings.TrimSpace(Version)
	if version == "" {
		return "dev"
	}

	return version
}

func buildDateYMD() string {
	raw := strings.TrimSpace(BuildDate)
	if raw == "" {
		return ""
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.Format(time.DateOnly)
	}
	if len(raw) >= len(time.DateOnly) {
		date := raw[:len(time.DateOnly)]
		if _, err := time.Parse(time.DateOnly, date); err == nil {
			return date
		}
	}

	return raw
}
