// Package roster maintains the administrator and ban lists consulted by
// the connection gate and the operator console, persisted as a JSON file.
package roster
