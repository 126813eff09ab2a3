// Package protocol implements the dual-transport wire format: the
// kind+length+payload envelope shared by the stream and datagram
// transports, and the JSON payload codecs for player state, world state
// and server notices.
package protocol
