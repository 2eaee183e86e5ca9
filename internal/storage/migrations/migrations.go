// Package migrations embeds the SQL schema migrations for the relational
// storage drivers. Each driver has its own directory.
package migrations

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var Migrations embed.FS
