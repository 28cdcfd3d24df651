// Package buffer holds stream events per (session, request) pair between the
// worker that produces them and the HTTP handler that relays them.
//
// MemoryBuffer keeps buckets in process and expires idle ones with a
// background sweep. RedisBuffer stores each bucket as a Redis list and relies
// on key expiry.
package buffer
