// Package migrations embeds the PostgreSQL schema for the store service.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
