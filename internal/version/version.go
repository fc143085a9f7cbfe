// Package version holds build version information.
package version

// Version is the current engine version. Overridden at build time via
// -ldflags "-X github.com/alimogh/trdk/internal/version.Version=...".
var Version = "dev"
