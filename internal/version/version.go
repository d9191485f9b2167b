package version

import (
	"fmt"
	"runtime/debug"
)

var (
	tag       = "dev" // set via ldflags
	commit    = "123abc"
	buildTime = "now"
)

const (
	appName  = "foodfit-server"
	template = "%s (%s) built at %s\nhttps://github.com/noot-app/foodfit-server/releases/tag/%s"
)

// buildInfoReader is swapped in tests
var buildInfoReader = defaultBuildInfoReader

func defaultBuildInfoReader() (*debug.BuildInfo, bool) {
	return debug.ReadBuildInfo()
}

// String is the multi-line version banner printed by `foodfit-server version`
func String() string {
	currentCommit := commit
	currentDate := buildTime

	// VCS info only fills in what ldflags left at the sentinel values
	if info, ok := buildInfoReader(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && commit == "123abc" {
				currentCommit = setting.Value
			}
			if setting.Key == "vcs.time" && buildTime == "now" {
				currentDate = setting.Value
			}
		}
	}

	return fmt.Sprintf(template, tag, currentCommit, currentDate, tag)
}

// Tag returns the release tag
func Tag() string {
	return tag
}

// UserAgent is sent on every upstream provider request
func UserAgent() string {
	return appName + "/" + tag
}
