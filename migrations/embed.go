// Package migrations embeds NodeKeeper's SQL schema so the binary can
// migrate its database without the files on disk.
package migrations

import "embed"

// FS holds the *.up.sql / *.down.sql files of this directory.
//
//go:embed *.sql
var FS embed.FS
