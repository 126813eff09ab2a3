package server

// Listen ports are protocol constants shared with every client build, not
// configuration.
const (
	// StreamPort is the TCP port carrying the reliable packet family.
	StreamPort = 26000

	// DatagramPort is the UDP port carrying the real-time packet family.
	DatagramPort = 26001
)
