// Package memstore provides in-process implementations of the chat
// message and session stores, used when no database is configured.
package memstore
