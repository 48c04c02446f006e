// Package buildinfo exposes version metadata injected at build time.
//
// The Version, Commit, and Date variables are set via -ldflags by the
// release build; development builds report "dev"/"unknown" defaults.
package buildinfo

// Version is the semantic version of the binary, set at build time.
var Version = "dev"

// Commit is the short git SHA the binary was built from, set at build time.
var Commit = "unknown"

// Date is the RFC 3339 build timestamp, set at build time.
var Date = "unknown"
