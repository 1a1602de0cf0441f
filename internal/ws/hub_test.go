package ws

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chahit025/CodeCollab/internal/room"
	"github.com/chahit025/CodeCollab/internal/runner"
)

// stubRunner returns a canned result for every request
type stubRunner struct {
	res runner.Result
}

func (s stubRunner) Run(_ context.Context, _, _ string) runner.Result { return s.res }

func testHub(exec Runner) (*Hub, *room.Registry) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := room.NewRegistry()
	return NewHub(logger, reg, exec, nil), reg
}

// testClient stands in for a websocket connection: fan-out frames land
// in its out channel, same as the write loop would see them
func testClient(id string) *Client {
	return &Client{id: id, out: make(chan []byte, 64)}
}

func send(t *testing.T, h *Hub, c *Client, event string, payload any) {
	t.Helper()
	frame, err := encode(event, payload)
	require.NoError(t, err)
	h.Dispatch(context.Background(), c, frame)
}

// received drains everything currently queued for a client
func received(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case b := <-c.out:
			var e Envelope
			require.NoError(t, json.Unmarshal(b, &e))
			out = append(out, e)
		default:
			return out
		}
	}
}

// waitEvent blocks until the client receives the named event
func waitEvent(t *testing.T, c *Client, event string) Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case b := <-c.out:
			var e Envelope
			require.NoError(t, json.Unmarshal(b, &e))
			if e.Event == event {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", event)
			return Envelope{}
		}
	}
}

func payloadAs[T any](t *testing.T, e Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(e.Data, &v))
	return v
}

func join(t *testing.T, h *Hub, c *Client, roomID, username string, isHost bool) {
	t.Helper()
	send(t, h, c, EventJoin, joinPayload{RoomID: roomID, Username: username, IsHost: isHost})
}

func TestJoinFanout(t *testing.T) {
	h, _ := testHub(stubRunner{})
	clients := []*Client{testClient("c1"), testClient("c2"), testClient("c3")}
	names := []string{"alice", "bob", "cara"}

	for i, c := range clients {
		join(t, h, c, "r1", names[i], i == 0)
	}

	// The Nth joiner's snapshot has a roster of length N
	for i, c := range clients {
		got := received(t, c)
		require.NotEmpty(t, got)
		require.Equal(t, EventRoomState, got[0].Event)
		state := payloadAs[roomStatePayload](t, got[0])
		assert.Len(t, state.Users, i+1)
		assert.Equal(t, room.DefaultCode, state.Code)
		assert.Equal(t, room.DefaultLanguage, state.Language)

		// Each earlier connection saw exactly one user_joined per later join
		joins := 0
		for _, e := range got[1:] {
			if e.Event == EventUserJoined {
				joins++
			}
		}
		assert.Equal(t, len(clients)-1-i, joins)
	}
}

func TestJoinSnapshotCarriesPermissions(t *testing.T) {
	h, _ := testHub(stubRunner{})
	a := testClient("c1")
	join(t, h, a, "r1", "alice", true)

	global := room.DefaultCapabilities()
	global.CanRun = false
	send(t, h, a, EventPermissionUpdate, permissionPayload{RoomID: "r1", Permissions: global, Scope: "global"})

	override := room.DefaultCapabilities()
	send(t, h, a, EventPermissionUpdate, permissionPayload{RoomID: "r1", Permissions: override, Scope: "user", Username: "bob"})

	b := testClient("c2")
	join(t, h, b, "r1", "bob", false)

	state := payloadAs[roomStatePayload](t, waitEvent(t, b, EventRoomState))
	assert.False(t, state.GlobalPermissions.CanRun)
	require.Contains(t, state.UserPermissions, "bob")
	assert.True(t, state.UserPermissions["bob"].CanRun)
}

func TestCodeChangeLastWriteWins(t *testing.T) {
	h, reg := testHub(stubRunner{})
	a, b, c := testClient("c1"), testClient("c2"), testClient("c3")
	join(t, h, a, "r1", "alice", true)
	join(t, h, b, "r1", "bob", false)
	join(t, h, c, "r1", "cara", false)
	received(t, a)
	received(t, b)
	received(t, c)

	send(t, h, a, EventCodeChange, codeChangePayload{RoomID: "r1", Code: "D1", Language: "python"})
	send(t, h, b, EventCodeChange, codeChangePayload{RoomID: "r1", Code: "D2", Language: "javascript"})

	// A bystander observes D1 then D2 in order
	got := received(t, c)
	require.Len(t, got, 2)
	assert.Equal(t, "D1", payloadAs[codeUpdatePayload](t, got[0]).Code)
	assert.Equal(t, "D2", payloadAs[codeUpdatePayload](t, got[1]).Code)

	// Senders never hear their own change back
	aGot := received(t, a)
	require.Len(t, aGot, 1)
	assert.Equal(t, "D2", payloadAs[codeUpdatePayload](t, aGot[0]).Code)
	bGot := received(t, b)
	require.Len(t, bGot, 1)
	assert.Equal(t, "D1", payloadAs[codeUpdatePayload](t, bGot[0]).Code)

	// Late joiner sees the final document
	d := testClient("c4")
	join(t, h, d, "r1", "dana", false)
	state := payloadAs[roomStatePayload](t, waitEvent(t, d, EventRoomState))
	assert.Equal(t, "D2", state.Code)
	assert.Equal(t, "javascript", state.Language)

	rm, ok := reg.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "D2", rm.Code)
}

func TestChatReachesEveryoneIncludingSender(t *testing.T) {
	h, _ := testHub(stubRunner{})
	a, b := testClient("c1"), testClient("c2")
	join(t, h, a, "r1", "alice", true)
	join(t, h, b, "r1", "bob", false)
	received(t, a)
	received(t, b)

	send(t, h, a, EventChatMessage, chatPayload{RoomID: "r1", Message: "hi", Username: "alice"})

	for _, c := range []*Client{a, b} {
		msg := payloadAs[messagePayload](t, waitEvent(t, c, EventNewMessage))
		assert.Equal(t, "hi", msg.Message)
		assert.Equal(t, "alice", msg.Username)
	}
}

func TestPermissionUpdateBroadcast(t *testing.T) {
	h, reg := testHub(stubRunner{})
	a, b := testClient("c1"), testClient("c2")
	join(t, h, a, "r1", "alice", true)
	join(t, h, b, "r1", "bob", false)
	received(t, a)
	received(t, b)

	perms := room.Capabilities{CanChat: true}
	send(t, h, a, EventPermissionUpdate, permissionPayload{RoomID: "r1", Permissions: perms, Scope: "user", Username: "bob"})

	// Raw update goes to the whole room, sender included
	for _, c := range []*Client{a, b} {
		upd := payloadAs[permissionsUpdatedPayload](t, waitEvent(t, c, EventPermissionsUpdated))
		assert.Equal(t, "user", upd.Scope)
		assert.Equal(t, "bob", upd.Username)
		assert.Equal(t, perms, upd.Permissions)
	}

	rm, _ := reg.Get("r1")
	assert.Equal(t, perms, rm.Effective("bob"))
	assert.Equal(t, room.DefaultCapabilities(), rm.Effective("alice"))
}

func TestEndSessionHostGated(t *testing.T) {
	h, reg := testHub(stubRunner{})
	host, guest := testClient("c1"), testClient("c2")
	join(t, h, host, "r1", "alice", true)
	join(t, h, guest, "r1", "bob", false)
	received(t, host)
	received(t, guest)

	// Non-host invocation is silently ignored
	send(t, h, guest, EventEndSession, endSessionPayload{RoomID: "r1"})
	assert.Empty(t, received(t, host))
	assert.Empty(t, received(t, guest))
	rm, ok := reg.Get("r1")
	require.True(t, ok)
	assert.Len(t, rm.Users, 2)

	// Host ends it for everyone, roster size irrelevant
	send(t, h, host, EventEndSession, endSessionPayload{RoomID: "r1"})
	waitEvent(t, host, EventSessionEnded)
	waitEvent(t, guest, EventSessionEnded)
	_, ok = reg.Get("r1")
	assert.False(t, ok)
}

func TestSecondHostMayEndSession(t *testing.T) {
	// Nothing stops two participants from both declaring themselves host
	h, reg := testHub(stubRunner{})
	a, b := testClient("c1"), testClient("c2")
	join(t, h, a, "r1", "alice", true)
	join(t, h, b, "r1", "bob", true)
	received(t, a)
	received(t, b)

	send(t, h, b, EventEndSession, endSessionPayload{RoomID: "r1"})
	waitEvent(t, a, EventSessionEnded)
	_, ok := reg.Get("r1")
	assert.False(t, ok)
}

func TestDisconnectCleanup(t *testing.T) {
	h, reg := testHub(stubRunner{})
	a, b := testClient("c1"), testClient("c2")
	join(t, h, a, "r1", "alice", true)
	join(t, h, b, "r1", "bob", false)
	received(t, a)
	received(t, b)

	h.Disconnect(a)
	left := payloadAs[rosterPayload](t, waitEvent(t, b, EventUserLeft))
	require.Len(t, left.Users, 1)
	assert.Equal(t, "bob", left.Users[0].Username)

	// Last one out removes the room without any session_ended
	h.Disconnect(b)
	_, ok := reg.Get("r1")
	assert.False(t, ok)

	// Rejoining the same id starts a fresh default room
	c := testClient("c3")
	join(t, h, c, "r1", "cara", false)
	state := payloadAs[roomStatePayload](t, waitEvent(t, c, EventRoomState))
	assert.Equal(t, room.DefaultCode, state.Code)
	require.Len(t, state.Users, 1)
}

func TestDisconnectUnknownConnection(t *testing.T) {
	h, _ := testHub(stubRunner{})
	h.Disconnect(testClient("ghost")) // must not panic or emit
}

func TestExecuteRoundTrip(t *testing.T) {
	h, _ := testHub(stubRunner{res: runner.Result{Output: "4", IsError: false}})
	a, b := testClient("c1"), testClient("c2")
	join(t, h, a, "r1", "alice", true)
	join(t, h, b, "r1", "bob", false)
	received(t, a)
	received(t, b)

	send(t, h, a, EventExecuteCode, executePayload{RoomID: "r1", Code: "2+2", Language: "python", RequestID: "req-7"})

	// Every member sees exactly one result, requester included
	for _, c := range []*Client{a, b} {
		res := payloadAs[executionResultPayload](t, waitEvent(t, c, EventExecutionResult))
		assert.Equal(t, "4", res.Output)
		assert.False(t, res.IsError)
		assert.Equal(t, "req-7", res.RequestID)
		assert.Empty(t, received(t, c))
	}
}

func TestExecuteFailureYieldsErrorResult(t *testing.T) {
	h, _ := testHub(stubRunner{res: runner.Result{Output: "Error executing code: connection refused", IsError: true}})
	a := testClient("c1")
	join(t, h, a, "r1", "alice", true)
	received(t, a)

	send(t, h, a, EventExecuteCode, executePayload{RoomID: "r1", Code: "2+2", Language: "python"})

	res := payloadAs[executionResultPayload](t, waitEvent(t, a, EventExecutionResult))
	assert.True(t, res.IsError)
	assert.NotEmpty(t, res.Output)
	assert.Empty(t, res.RequestID)
}

func TestMissingRoomEventsAreSilent(t *testing.T) {
	h, reg := testHub(stubRunner{res: runner.Result{Output: "4"}})
	a := testClient("c1")

	send(t, h, a, EventCodeChange, codeChangePayload{RoomID: "nope", Code: "x", Language: "python"})
	send(t, h, a, EventChatMessage, chatPayload{RoomID: "nope", Message: "hi", Username: "alice"})
	send(t, h, a, EventPermissionUpdate, permissionPayload{RoomID: "nope", Scope: "global"})
	send(t, h, a, EventExecuteCode, executePayload{RoomID: "nope", Code: "x", Language: "python"})
	send(t, h, a, EventEndSession, endSessionPayload{RoomID: "nope"})

	assert.Empty(t, received(t, a))
	assert.Equal(t, 0, reg.Len())
}

func TestMalformedFramesIgnored(t *testing.T) {
	h, _ := testHub(stubRunner{})
	a := testClient("c1")

	h.Dispatch(context.Background(), a, []byte("not json"))
	h.Dispatch(context.Background(), a, []byte(`{"event":"join_room","data":"not an object"}`))
	h.Dispatch(context.Background(), a, []byte(`{"event":"made_up","data":{}}`))

	assert.Empty(t, received(t, a))
}
