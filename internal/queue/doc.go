// Package queue provides the bounded, blocking, closable FIFO that carries
// job descriptors from the request path to background workers.
//
// Two backends satisfy the same Queue interface: MemoryQueue for a single
// process, and RedisQueue for deployments where submitters and workers run
// in different processes. Callers select one through New and never depend on
// the concrete type.
package queue
