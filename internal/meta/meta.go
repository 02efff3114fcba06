// Package meta holds build metadata shared by the gopgmgr commands.
package meta

// Version is overridden at build time with
// -ldflags "-X github.com/rickchristie/postgres-manager/internal/meta.Version=v1.2.3".
var Version = "dev"
