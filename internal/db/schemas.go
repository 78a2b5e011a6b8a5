package db

import "embed"

// sqlSchemas holds the insight table migrations, read by golang-migrate
// through httpfs.
//
//go:embed migrations/*.sql
var sqlSchemas embed.FS
