// Package server contains the relay's network engine: the stream listener
// with its connection gate, the datagram listener, the kind dispatcher,
// the fan-out broadcaster, and the admin HTTP API.
package server
