// Package version holds build metadata injected with -ldflags.
package version

// Version is overridden at build time: -ldflags "-X github.com/memohai/warden/internal/version.Version=v1.2.3".
var Version = "dev"

// Commit is the VCS revision the binary was built from.
var Commit = "unknown"
