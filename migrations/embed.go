// Package migrations embeds the goose schema migrations so the server can
// migrate itself on startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
