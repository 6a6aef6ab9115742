// Package buildinfo holds the daemon's version identity. Version/Build/Commit/
// Branch are overridable via linker flags at build time, mirroring the
// teacher CLI's Version/Build/Commit/Branch vars; kept in their own package
// so both the admin RPC server and the shaked CLI can read the same values
// without an import cycle.
package buildinfo

var (
	Version = "0.1.0"
	Build   = "dev"
	Commit  = ""
	Branch  = ""
)
