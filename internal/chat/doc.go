// Package chat orchestrates conversational generation on top of the job
// queue, worker, task pool and event buffer.
//
// The Executor is the only type the HTTP layer talks to. It offers two ways
// to run a request:
//
//   - SubmitJob enqueues the request and returns ids at once; a Worker later
//     drives the Pipeline and pushes events into the EventBuffer, and
//     StreamEvents relays them to whichever connection asks for them.
//   - RunStream drives the Pipeline inline on the calling connection.
//
// Both paths emit exactly one start event, zero or more token events and
// exactly one terminal event (done or error) per request id, whatever the
// Pipeline does.
package chat
