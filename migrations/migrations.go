// Package migrations embeds the SQL schema shared by the sqlite3 and postgres drivers.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
