// Package migrations embeds the Postgres schema for the territory service.
package migrations

import "embed"

// FS contains the ordered *.up.sql migrations.
//
//go:embed *.up.sql
var FS embed.FS
