// Package migrations embeds the SQL migrations of the bridge database so
// they ship inside the binary.
package migrations

import "embed"

// FS holds every *.sql file of this directory at its root.
//
//go:embed *.sql
var FS embed.FS
