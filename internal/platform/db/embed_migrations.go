package db

import "embed"

// MigrationFS embeds SQL migration files from internal/platform/db/migrations.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
