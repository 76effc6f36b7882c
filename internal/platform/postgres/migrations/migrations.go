// Package migrations embeds the goose SQL migrations for the relational
// schema so the server binary can apply them without a source checkout.
package migrations

import "embed"

// FS holds every migration file.
//
//go:embed *.sql
var FS embed.FS
