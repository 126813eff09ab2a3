package server

// Version is the server release version reported by the health endpoint
// and the startup banner.
const Version = "1.0.0"
