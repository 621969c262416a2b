// Package migrations embebe los .sql que corre goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
