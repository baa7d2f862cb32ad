// Package session runs the stop-and-wait ARQ link between a debug target and
// its host over a channel.Channel.
//
// Ownership boundary:
// - leader hunt and break-in detection (framer.go)
// - packet id parity, sync flag and retry budget (state.go)
// - send with acknowledgment and bounded retry, receive with validation
// - protocol reset handshake
//
// One Engine owns one channel. Send, Receive, Reset and PollForBreakin must
// not be called concurrently; Stats and Breakin may be read from any goroutine.
package session
