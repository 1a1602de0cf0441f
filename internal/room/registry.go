package room

// Registry maps room ids to live rooms. It does no locking of its own:
// every call happens inside the hub's single coordination section, which
// sequences all access. Construct one per hub (injectable, never a
// package-level singleton) so tests can run independent registries.
type Registry struct {
	rooms map[string]*Room
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{rooms: map[string]*Room{}}
}

// GetOrCreate resolves a room, creating it with defaults on first join.
// First join wins: the id is caller-supplied and not otherwise validated.
func (g *Registry) GetOrCreate(id string) *Room {
	r, ok := g.rooms[id]
	if !ok {
		r = New(id)
		g.rooms[id] = r
	}
	return r
}

// Get returns the room for id, or ok=false if absent
func (g *Registry) Get(id string) (*Room, bool) {
	r, ok := g.rooms[id]
	return r, ok
}

// Remove deletes a room regardless of its roster
func (g *Registry) Remove(id string) { delete(g.rooms, id) }

// Len reports how many rooms are live
func (g *Registry) Len() int { return len(g.rooms) }

// RemoveConn scans all rooms for the departing connection (a connection
// belongs to at most one room), removes its participant entry, and drops
// the room once its roster empties. O(total rooms); fine at the expected
// scale, so no reverse index is kept.
func (g *Registry) RemoveConn(connID string) (*Room, bool) {
	for id, r := range g.rooms {
		if r.Leave(connID) {
			if r.Empty() {
				delete(g.rooms, id)
			}
			return r, true
		}
	}
	return nil, false
}
