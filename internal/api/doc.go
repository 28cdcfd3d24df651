// Package api exposes the chat executor over HTTP: job submission, relay
// of buffered events as server-sent events, direct streaming and session
// status lookup.
package api
