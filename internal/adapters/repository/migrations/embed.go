// Package migrations embeds the SQL schema of the world and session databases.
package migrations

import "embed"

// FS holds the migration files under world/ and sessions/.
//
//go:embed world/*.sql sessions/*.sql
var FS embed.FS

// Roots of the two schemas inside FS.
const (
	World    = "world"
	Sessions = "sessions"
)
