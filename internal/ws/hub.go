package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"log/slog"

	"github.com/chahit025/CodeCollab/internal/room"
	"github.com/chahit025/CodeCollab/internal/runner"
	"github.com/chahit025/CodeCollab/pkg/metrics"
)

// Runner proxies code to the execution collaborator. It must yield
// exactly one Result per call, folding failures into the Result.
type Runner interface {
	Run(ctx context.Context, language, code string) runner.Result
}

// Hub is the coordination context: it owns the room registry and the
// joined-connection table outright. One mutex serializes every event,
// so rooms need no locking of their own. Only the execution call runs
// outside the lock, on its own goroutine.
type Hub struct {
	log   *slog.Logger
	exec  Runner
	relay *Relay // optional cross-instance relay, may be nil

	mu    sync.Mutex
	reg   *room.Registry
	conns map[string]*Client // joined connections by connection id
}

// NewHub wires the hub with its injected registry, runner, and optional
// relay (pass nil to run standalone)
func NewHub(logger *slog.Logger, reg *room.Registry, exec Runner, relay *Relay) *Hub {
	return &Hub{log: logger, exec: exec, relay: relay, reg: reg, conns: map[string]*Client{}}
}

// Run listens to the relay (when configured) and forwards remote content
// frames into local rooms. Blocks until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	if h.relay != nil {
		go h.relay.Subscribe(ctx, func(roomID string, frame []byte) {
			h.mu.Lock()
			if rm, ok := h.reg.Get(roomID); ok {
				h.fan(rm, "", frame)
			}
			h.mu.Unlock()
		})
	}
	<-ctx.Done()
}

// ServeWS handles a new /ws connection for its whole lifetime
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := Accept(w, r)
	if err != nil {
		h.log.Error("ws.accept", "err", err)
		return
	}

	c := newClient(conn)
	go c.WriteLoop(ctx)

	for {
		raw, ok := c.Read(ctx)
		if !ok {
			break
		}
		if !c.limiter.Allow() {
			h.log.Warn("ws.ratelimited", "conn", c.id)
			continue
		}
		h.Dispatch(ctx, c, raw)
	}

	h.Disconnect(c)
	_ = c.Close()
}

// Dispatch routes one inbound envelope. Malformed frames are logged and
// dropped; nothing a single connection sends may bring the hub down.
func (h *Hub) Dispatch(ctx context.Context, c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.log.Debug("ws.envelope.bad", "conn", c.id, "err", err)
		return
	}
	metrics.EventsTotal.WithLabelValues(env.Event).Inc()

	switch env.Event {
	case EventJoin:
		var p joinPayload
		if decode(h.log, c, env, &p) {
			h.join(c, p)
		}
	case EventCodeChange:
		var p codeChangePayload
		if decode(h.log, c, env, &p) {
			h.codeChange(ctx, c, p)
		}
	case EventChatMessage:
		var p chatPayload
		if decode(h.log, c, env, &p) {
			h.chat(ctx, p)
		}
	case EventPermissionUpdate:
		var p permissionPayload
		if decode(h.log, c, env, &p) {
			h.permissionUpdate(p)
		}
	case EventExecuteCode:
		var p executePayload
		if decode(h.log, c, env, &p) {
			h.execute(ctx, p)
		}
	case EventEndSession:
		var p endSessionPayload
		if decode(h.log, c, env, &p) {
			h.endSession(c, p)
		}
	default:
		h.log.Debug("ws.event.unknown", "conn", c.id, "event", env.Event)
	}
}

func decode(log *slog.Logger, c *Client, env Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		log.Debug("ws.payload.bad", "conn", c.id, "event", env.Event, "err", err)
		return false
	}
	return true
}

// join resolves or creates the room, registers the connection, unicasts
// the full state snapshot to the joiner, and tells everyone else about
// the new roster. Joins never fail: rooms are unbounded and duplicate
// usernames are distinct participants.
func (h *Hub) join(c *Client, p joinPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm := h.reg.GetOrCreate(p.RoomID)
	rm.Join(p.Username, p.IsHost, c.id)
	h.conns[c.id] = c
	h.gauges()

	h.log.Info("room.join", "room", rm.ID, "user", p.Username, "host", p.IsHost, "size", len(rm.Users))

	h.unicast(c, EventRoomState, roomStatePayload{
		Code:              rm.Code,
		Language:          rm.Language,
		Users:             rm.Users,
		GlobalPermissions: rm.GlobalPerms,
		UserPermissions:   rm.UserPerms,
	})
	h.emit(rm, c.id, EventUserJoined, rosterPayload{Users: rm.Users})
}

// codeChange overwrites the shared document (last write wins) and fans
// the new value to everyone but the sender, who already holds it
func (h *Hub) codeChange(ctx context.Context, c *Client, p codeChangePayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, ok := h.reg.Get(p.RoomID)
	if !ok {
		return
	}
	rm.SetDocument(p.Code, p.Language)
	frame := h.emit(rm, c.id, EventCodeUpdate, codeUpdatePayload{Code: p.Code, Language: p.Language})
	h.publish(ctx, rm.ID, frame)
}

// chat relays the message to the whole room, sender included, keeping
// origin metadata so clients can tell their own messages apart
func (h *Hub) chat(ctx context.Context, p chatPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, ok := h.reg.Get(p.RoomID)
	if !ok {
		return
	}
	frame := h.emit(rm, "", EventNewMessage, messagePayload{Message: p.Message, Username: p.Username})
	h.publish(ctx, rm.ID, frame)
}

// permissionUpdate replaces the global set wholesale or stores a
// per-user override, then rebroadcasts the raw update; clients compute
// their own effective capability from it
func (h *Hub) permissionUpdate(p permissionPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, ok := h.reg.Get(p.RoomID)
	if !ok {
		return
	}
	if p.Scope == "global" {
		rm.SetGlobalPerms(p.Permissions)
	} else {
		rm.SetUserPerms(p.Username, p.Permissions)
	}
	h.emit(rm, "", EventPermissionsUpdated, permissionsUpdatedPayload{
		Permissions: p.Permissions,
		Scope:       p.Scope,
		Username:    p.Username,
	})
}

// execute snapshots the request, then calls the collaborator off-lock so
// pending runs never stall other events. Exactly one result frame per
// request reaches the room, success or not, in collaborator-response
// order (uncorrelated unless the client sent a requestId).
func (h *Hub) execute(ctx context.Context, p executePayload) {
	h.mu.Lock()
	_, ok := h.reg.Get(p.RoomID)
	h.mu.Unlock()
	if !ok {
		return
	}

	// Outlive the requesting connection: the room still gets the result
	// if the requester drops mid-run
	runCtx := context.WithoutCancel(ctx)

	go func() {
		start := time.Now()
		res := h.exec.Run(runCtx, p.Language, p.Code)
		metrics.ExecSeconds.Observe(time.Since(start).Seconds())
		h.log.Info("exec.done", "room", p.RoomID, "lang", p.Language, "error", res.IsError, "took", time.Since(start))

		h.mu.Lock()
		defer h.mu.Unlock()
		rm, ok := h.reg.Get(p.RoomID)
		if !ok {
			return
		}
		frame := h.emit(rm, "", EventExecutionResult, executionResultPayload{
			Output:    res.Output,
			IsError:   res.IsError,
			RequestID: p.RequestID,
		})
		h.publish(runCtx, rm.ID, frame)
	}()
}

// endSession is host-gated: non-host invocations are silently ignored.
// A host ends the session for everyone and the room is gone immediately,
// whatever the roster size.
func (h *Hub) endSession(c *Client, p endSessionPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, ok := h.reg.Get(p.RoomID)
	if !ok {
		return
	}
	u, ok := rm.Find(c.id)
	if !ok || !u.IsHost {
		return
	}
	h.emit(rm, "", EventSessionEnded, nil)
	h.reg.Remove(rm.ID)
	h.gauges()
	h.log.Info("room.ended", "room", rm.ID, "host", u.Username)
}

// Disconnect removes the departing connection from its room (linear
// scan; a connection is in at most one room), updates the remaining
// roster, and drops the room once empty. Needs no acknowledgement from
// the client.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, c.id)
	rm, ok := h.reg.RemoveConn(c.id)
	h.gauges()
	if !ok {
		return
	}
	if !rm.Empty() {
		h.emit(rm, "", EventUserLeft, rosterPayload{Users: rm.Users})
	} else {
		h.log.Info("room.closed", "room", rm.ID)
	}
}

// emit encodes once and fans to the room, skipping exceptConnID when
// non-empty. Returns the frame for optional relay publication.
func (h *Hub) emit(rm *room.Room, exceptConnID, event string, data any) []byte {
	frame, err := encode(event, data)
	if err != nil {
		h.log.Error("ws.encode", "event", event, "err", err)
		return nil
	}
	h.fan(rm, exceptConnID, frame)
	return frame
}

func (h *Hub) unicast(c *Client, event string, data any) {
	frame, err := encode(event, data)
	if err != nil {
		h.log.Error("ws.encode", "event", event, "err", err)
		return
	}
	c.enqueue(frame)
}

// fan delivers a raw frame to every joined connection in the room,
// skipping exceptConnID when non-empty
func (h *Hub) fan(rm *room.Room, exceptConnID string, frame []byte) {
	if frame == nil {
		return
	}
	for _, p := range rm.Users {
		if p.ConnID == exceptConnID {
			continue
		}
		if c, ok := h.conns[p.ConnID]; ok {
			if !c.enqueue(frame) {
				h.log.Warn("ws.drop", "room", rm.ID, "conn", p.ConnID)
			}
		}
	}
}

// publish forwards a content frame to sibling instances, best effort.
// Runs off-goroutine so the coordination lock never waits on redis.
func (h *Hub) publish(ctx context.Context, roomID string, frame []byte) {
	if h.relay == nil || frame == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := h.relay.Publish(ctx, roomID, frame); err != nil {
			h.log.Warn("relay.publish", "room", roomID, "err", err)
		}
	}()
}

func (h *Hub) gauges() {
	metrics.ActiveRooms.Set(float64(h.reg.Len()))
	metrics.ActiveConnections.Set(float64(len(h.conns)))
}
