// Package migrations embeds the goose SQL migrations for the PostgreSQL schema.
package migrations

import "embed"

// FS holds every *.sql migration; apply with postgresql.Client.Migrate(ctx, FS, ".").
//
//go:embed *.sql
var FS embed.FS
