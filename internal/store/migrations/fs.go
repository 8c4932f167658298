// Package migrations embeds the nexus database's versioned schema files.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql
var sqlFiles embed.FS

// FS returns the embedded migration directory.
func FS() fs.FS {
	return sqlFiles
}
