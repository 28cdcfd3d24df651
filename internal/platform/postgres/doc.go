// Package postgres provides PostgreSQL implementations of the chat message
// and session stores together with the embedded schema migrations they
// depend on. Connections are opened through the pgx database/sql driver.
package postgres
