package version

import (
	"fmt"
	"runtime/debug"
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

// Full appends the vcs revision recorded by the go toolchain, if any.
func (m *Version) Full() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return m.String()
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
			return m.String() + " (" + setting.Value[:7] + ")"
		}
	}
	return m.String()
}

var (
	AppVersion = Version{
		MajorNumber: 0,
		MinorNumber: 3,
		PatchNumber: 0,
	}
)
