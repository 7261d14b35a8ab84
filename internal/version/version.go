// SPDX-License-Identifier: MIT

// Package version carries build metadata injected at link time.
package version

import "fmt"

var (
	// Version is set via ldflags; "dev" for local builds.
	Version = "dev"

	// Commit is the git short hash of the build.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// String returns a single-line human readable description of the build.
func String() string {
	return fmt.Sprintf("fuzzbin %s (commit: %s, built: %s)", Version, Commit, Date)
}
