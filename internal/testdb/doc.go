//go:build integration

// Package testdb provides database helpers for integration tests. Tests
// using it are skipped unless DATABASE_URL points at a PostgreSQL server.
package testdb
