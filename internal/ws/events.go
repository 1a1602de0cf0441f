package ws

import (
	"encoding/json"

	"github.com/chahit025/CodeCollab/internal/room"
)

// Wire format: one JSON envelope per websocket message. Event names
// match the original socket surface so existing clients keep working.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// client -> server
const (
	EventJoin             = "join_room"
	EventCodeChange       = "code_change"
	EventChatMessage      = "chat_message"
	EventPermissionUpdate = "permission_update"
	EventExecuteCode      = "execute_code"
	EventEndSession       = "end_session"
)

// server -> client
const (
	EventRoomState          = "room_state"
	EventUserJoined         = "user_joined"
	EventUserLeft           = "user_left"
	EventCodeUpdate         = "code_update"
	EventNewMessage         = "new_message"
	EventPermissionsUpdated = "permissions_updated"
	EventExecutionResult    = "code_execution_result"
	EventSessionEnded       = "session_ended"
)

type joinPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	IsHost   bool   `json:"isHost"`
}

type codeChangePayload struct {
	RoomID   string `json:"roomId"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

type chatPayload struct {
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
	Username string `json:"username"`
}

// Scope is "global" or "user"; the wire field is "type" (legacy name)
type permissionPayload struct {
	RoomID      string            `json:"roomId"`
	Permissions room.Capabilities `json:"permissions"`
	Scope       string            `json:"type"`
	Username    string            `json:"username,omitempty"`
}

// RequestID is an optional client correlation id echoed on the result
type executePayload struct {
	RoomID    string `json:"roomId"`
	Code      string `json:"code"`
	Language  string `json:"language"`
	RequestID string `json:"requestId,omitempty"`
}

type endSessionPayload struct {
	RoomID string `json:"roomId"`
}

type roomStatePayload struct {
	Code              string                       `json:"code"`
	Language          string                       `json:"language"`
	Users             []room.Participant           `json:"users"`
	GlobalPermissions room.Capabilities            `json:"globalPermissions"`
	UserPermissions   map[string]room.Capabilities `json:"userPermissions"`
}

type rosterPayload struct {
	Users []room.Participant `json:"users"`
}

type codeUpdatePayload struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type messagePayload struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

type permissionsUpdatedPayload struct {
	Permissions room.Capabilities `json:"permissions"`
	Scope       string            `json:"type"`
	Username    string            `json:"username,omitempty"`
}

type executionResultPayload struct {
	Output    string `json:"output"`
	IsError   bool   `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// encode wraps a payload in its envelope, marshaled once per fan-out
func encode(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
