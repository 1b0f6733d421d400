package custodian

import "runtime"

// Build information, injected through ldflags at build time.
var (
	CurrentVersion = "dev"
	CurrentBranch  = "unknown"
	CurrentCommit  = "unknown"
	BuildDate      = "unknown"
)

var (
	Platform  = runtime.GOOS + "/" + runtime.GOARCH
	GoVersion = runtime.Version()
)
