// Package pool runs short auxiliary tasks on a fixed set of goroutines and
// hands each caller a Future for the result.
//
// The chat executor uses it for work that must not hold up the event stream,
// such as persisting a finished assistant message with bounded retry.
package pool
