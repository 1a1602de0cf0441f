package ws

import (
	"context"
	"encoding/json"

	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chahit025/CodeCollab/internal/app"
)

// relayMessage carries one already-encoded content frame between
// instances. Origin suppresses self-echo: redis pub/sub delivers to the
// publisher too.
type relayMessage struct {
	Origin string `json:"origin"`
	RoomID string `json:"roomId"`
	Frame  []byte `json:"frame"`
}

// Relay fans content events (chat, document updates, execution results)
// to same-named rooms on sibling instances over redis pub/sub. Roster
// and permission state stay strictly per-process; the relay is a
// best-effort content mirror, enabled only when REDIS_ADDR is set.
type Relay struct {
	rdb    *redis.Client
	log    *slog.Logger
	origin string
}

// NewRelay connects to redis and verifies connectivity
func NewRelay(ctx context.Context, cfg app.Config, log *slog.Logger) (*Relay, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Relay{rdb: rdb, log: log, origin: uuid.NewString()}, nil
}

// Publish sends a frame to the channel for a room
func (r *Relay) Publish(ctx context.Context, roomID string, frame []byte) error {
	raw, _ := json.Marshal(relayMessage{Origin: r.origin, RoomID: roomID, Frame: frame})
	return r.rdb.Publish(ctx, channel(roomID), raw).Err()
}

// Subscribe listens on all room channels and invokes fn for every frame
// published by another instance
func (r *Relay) Subscribe(ctx context.Context, fn func(roomID string, frame []byte)) {
	pubsub := r.rdb.PSubscribe(ctx, channel("*"))
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			_ = pubsub.Close()
			return
		case msg := <-ch:
			var rm relayMessage
			_ = json.Unmarshal([]byte(msg.Payload), &rm)
			if rm.RoomID != "" && rm.Origin != r.origin {
				fn(rm.RoomID, rm.Frame)
			}
		}
	}
}

// Close shuts down the redis connection
func (r *Relay) Close() { _ = r.rdb.Close() }

// channel namespacing for room pub/sub
func channel(roomID string) string { return "room:" + roomID }
