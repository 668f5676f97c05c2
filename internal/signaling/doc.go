// Package signaling defines the out-of-band envelope protocol used to
// negotiate calls, the Channel abstraction the call core consumes, a
// WebSocket client implementation of it, and the hub server that forwards
// envelopes between registered peers.
package signaling
