package room

// Defaults applied when a room is created on first join
const (
	DefaultCode     = "# Your code here"
	DefaultLanguage = "python"
)

// Capabilities is one named set of participant permissions.
// Applied room-wide as the global default, or per-user as an override.
type Capabilities struct {
	CanEdit  bool `json:"canEdit"`
	CanChat  bool `json:"canChat"`
	CanRun   bool `json:"canRun"`
	CanCopy  bool `json:"canCopy"`
	CanReset bool `json:"canReset"`
}

// DefaultCapabilities is the allow-everything set new rooms start with
func DefaultCapabilities() Capabilities {
	return Capabilities{CanEdit: true, CanChat: true, CanRun: true, CanCopy: true, CanReset: true}
}

// Participant is one connected client's membership record.
// The host flag is whatever the client declared at join time.
type Participant struct {
	Username string `json:"username"`
	IsHost   bool   `json:"isHost"`
	ConnID   string `json:"connectionId"`
}

// Room is one collaborative session: roster in join order, the shared
// document (last write wins), and the permission matrix
type Room struct {
	ID          string
	Users       []Participant
	Code        string
	Language    string
	GlobalPerms Capabilities
	UserPerms   map[string]Capabilities
}

// New creates a room with the default document and allow-all permissions
func New(id string) *Room {
	return &Room{
		ID:          id,
		Users:       []Participant{},
		Code:        DefaultCode,
		Language:    DefaultLanguage,
		GlobalPerms: DefaultCapabilities(),
		UserPerms:   map[string]Capabilities{},
	}
}

// Join appends a participant. Duplicate usernames are allowed and stay
// distinct participants; only ConnID must be unique within the room.
func (r *Room) Join(username string, isHost bool, connID string) Participant {
	p := Participant{Username: username, IsHost: isHost, ConnID: connID}
	r.Users = append(r.Users, p)
	return p
}

// Leave removes the participant owning connID, preserving join order.
// Returns false if no participant held that connection.
func (r *Room) Leave(connID string) bool {
	for i, p := range r.Users {
		if p.ConnID == connID {
			r.Users = append(r.Users[:i], r.Users[i+1:]...)
			return true
		}
	}
	return false
}

// Find returns the participant record for a connection id
func (r *Room) Find(connID string) (Participant, bool) {
	for _, p := range r.Users {
		if p.ConnID == connID {
			return p, true
		}
	}
	return Participant{}, false
}

// Empty reports whether the roster has no participants left
func (r *Room) Empty() bool { return len(r.Users) == 0 }

// SetDocument overwrites the shared document unconditionally (no
// concurrency check, no diffing)
func (r *Room) SetDocument(code, language string) {
	r.Code = code
	r.Language = language
}

// SetGlobalPerms replaces the global capability set wholesale
func (r *Room) SetGlobalPerms(c Capabilities) { r.GlobalPerms = c }

// SetUserPerms stores a per-user override; it supersedes the global set
// for that username until replaced
func (r *Room) SetUserPerms(username string, c Capabilities) {
	r.UserPerms[username] = c
}

// Effective resolves the capability set for a username: the per-user
// override wins when present, otherwise the global defaults apply.
// Clients do this same computation from the broadcast updates; the
// server-side copy exists for snapshots and tests.
func (r *Room) Effective(username string) Capabilities {
	if c, ok := r.UserPerms[username]; ok {
		return c
	}
	return r.GlobalPerms
}
