// Package migrations embeds the registry schema so the daemon can migrate
// without SQL files on disk.
package migrations

import "embed"

// FS holds every *.sql file in this directory at its root.
//
//go:embed *.sql
var FS embed.FS
