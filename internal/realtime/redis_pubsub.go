package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "classroom:"
	publishTimeout = 2 * time.Second
)

// redisPayload is the message published to Redis.
type redisPayload struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	At    int64           `json:"at"`
}

// RedisMirror publishes room broadcasts to Redis so dashboards and loggers
// outside this process can follow a classroom. Nothing is read back.
type RedisMirror struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisMirror creates a Redis mirror for classroom events.
func NewRedisMirror(client *redis.Client, logger *zap.Logger) *RedisMirror {
	return &RedisMirror{client: client, logger: logger}
}

// Channel returns the Redis channel of a room.
func Channel(room string) string {
	return channelPrefix + room
}

// PublishRoomEvent publishes an event to the room's Redis channel.
func (r *RedisMirror) PublishRoomEvent(room, event string, payload []byte) error {
	body, err := json.Marshal(redisPayload{Room: room, Event: event, Data: payload, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, Channel(room), body).Err()
}
