package roster

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
)

// Roster holds the administrator and ban lists. It loads once at startup
// and persists itself after every mutation. Identity matching is exact and
// case-sensitive, the same rule the session table uses.
type Roster struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	admins map[string]struct{}
	banned map[string]struct{}
}

type rosterFile struct {
	Admins []string `json:"admins"`
	Banned []string `json:"banned"`
}

// Load reads the roster file at path, creating an empty roster if the file
// does not exist yet.
func Load(path string, logger *slog.Logger) (*Roster, error) {
	r := &Roster{
		path:   path,
		logger: logger,
		admins: make(map[string]struct{}),
		banned: make(map[string]struct{}),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read roster file %s: %w", path, err)
	}

	var file rosterFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse roster file %s: %w", path, err)
	}

	for _, id := range file.Admins {
		r.admins[id] = struct{}{}
	}
	for _, id := range file.Banned {
		r.banned[id] = struct{}{}
	}

	return r, nil
}

// IsBanned reports whether the identity is on the ban list.
func (r *Roster) IsBanned(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, banned := r.banned[identity]
	return banned
}

// IsAdmin reports whether the identity is on the administrator list.
func (r *Roster) IsAdmin(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, admin := r.admins[identity]
	return admin
}

// Ban adds an identity to the ban list and persists the roster. It returns
// false if the identity was already banned.
func (r *Roster) Ban(identity string) bool {
	r.mu.Lock()
	if _, exists := r.banned[identity]; exists {
		r.mu.Unlock()
		return false
	}
	r.banned[identity] = struct{}{}
	r.mu.Unlock()

	r.save()
	return true
}

// Unban removes an identity from the ban list and persists the roster. It
// returns false if the identity was not banned.
func (r *Roster) Unban(identity string) bool {
	r.mu.Lock()
	if _, exists := r.banned[identity]; !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.banned, identity)
	r.mu.Unlock()

	r.save()
	return true
}

// AddAdmin adds an identity to the administrator list and persists the
// roster.
func (r *Roster) AddAdmin(identity string) bool {
	r.mu.Lock()
	if _, exists := r.admins[identity]; exists {
		r.mu.Unlock()
		return false
	}
	r.admins[identity] = struct{}{}
	r.mu.Unlock()

	r.save()
	return true
}

// Banned returns the ban list in sorted order.
func (r *Roster) Banned() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.banned))
	for id := range r.banned {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// save writes the roster to disk. Persistence failures are logged, not
// raised; the in-memory roster stays authoritative for the running server.
func (r *Roster) save() {
	r.mu.RLock()
	file := rosterFile{
		Admins: make([]string, 0, len(r.admins)),
		Banned: make([]string, 0, len(r.banned)),
	}
	for id := range r.admins {
		file.Admins = append(file.Admins, id)
	}
	for id := range r.banned {
		file.Banned = append(file.Banned, id)
	}
	r.mu.RUnlock()

	sort.Strings(file.Admins)
	sort.Strings(file.Banned)

	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		r.logger.Error("Failed to encode roster", slog.String("error", err.Error()))
		return
	}

	if err := os.WriteFile(r.path, data, 0644); err != nil {
		r.logger.Error("Failed to persist roster",
			slog.String("path", r.path),
			slog.String("error", err.Error()),
		)
	}
}
