// Package migrations embeds the goose SQL migrations so the binaries can
// apply them on startup without shipping files alongside the executable.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
