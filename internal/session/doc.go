// Package session owns the live player sessions: the concurrent
// identity-keyed table, the per-session transport handles and state, the
// idle-session reaper, and the shared world-state store.
package session
