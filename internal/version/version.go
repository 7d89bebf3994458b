package version

import (
	"fmt"
	"runtime"
)

type Version struct {
	MajorNumber int64
	MinorNumber int64
	PatchNumber int64
}

// String generate a human readable Version
func (m *Version) String() string {
	return fmt.Sprintf("%d.%d.%d", m.MajorNumber, m.MinorNumber, m.PatchNumber)
}

var (
	AppVersion = Version{
		MajorNumber: 0,
		MinorNumber: 4,
		PatchNumber: 0,
	}

	// GitCommit is set at build time with -ldflags "-X ...version.GitCommit=<sha>"
	GitCommit = "unknown"
)

// Full describes the build, for the version command and the startup log.
func Full() string {
	return fmt.Sprintf("%s (commit %s, %s %s/%s)", AppVersion.String(), GitCommit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
