// Package socket serves the agent and user websocket endpoints.
//
// Each connection gets one read goroutine, which handles inbound frames in
// order, and one write goroutine draining a bounded queue. Emit never blocks:
// when the queue is full the event is dropped and the caller told so.
//
// Frames are JSON objects {"event": "...", "data": {...}}.
package socket
