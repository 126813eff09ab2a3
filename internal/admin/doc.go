// Package admin implements the interactive operator console: kick, ban,
// unban, list and server chat, bridged onto the session table and roster.
package admin
