// Package migrations embeds the schema migration files so the migrate
// binary needs no filesystem layout at runtime.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
