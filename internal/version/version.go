package version

import (
	"fmt"
)

const (
	majorVersion = "0"
	minorVersion = "2"
	patchVersion = "0"

	// SeccompProfileVersion is stamped onto the Execution Result of every
	// execute-code run,
	// since the exact syscalls a language profile needs drifts with
	// interpreter and JVM versions across rustbox releases.
	SeccompProfileVersion = "1"
)

// Version returns the rustbox binary's semantic version.
func Version() string {
	return fmt.Sprintf("%s.%s.%s", majorVersion, minorVersion, patchVersion)
}

// VersionDetails returns the major, minor, and patch components separately.
func VersionDetails() (string, string, string) {
	return majorVersion, minorVersion, patchVersion
}
