// Package db embeds the PostgreSQL schema for the catalog and contact tables.
package db

import _ "embed"

// Schema is idempotent DDL for every table the service uses.
//
//go:embed migrations/001_schema.sql
var Schema string
