// Package redisstore keeps chat session status in Redis so that every
// process serving the API sees the same status for a session.
package redisstore
