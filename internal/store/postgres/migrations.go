package postgres

import "embed"

// Migrations holds the schema, applied in file name order by RunMigrations.
//
//go:embed migrations/*.up.sql
var Migrations embed.FS
