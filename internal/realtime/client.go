package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/classpoll/backend/internal/polls"
	"github.com/classpoll/backend/internal/session"
)

// DefaultSendBuffer is the per-client outbound queue length.
const DefaultSendBuffer = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Dispatcher processes session events; implemented by *session.Coordinator.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev session.Event) error
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client represents a single WebSocket connection in a room.
type Client struct {
	ID     string
	Room   string
	hub    *Hub
	coord  Dispatcher
	conn   *websocket.Conn
	send   chan WSMessage
	logger *zap.Logger
}

func (c *Client) enqueue(msg WSMessage) {
	select {
	case c.send <- msg:
	default:
		// buffer full, skip
		c.logger.Warn("client send buffer full", zap.String("client_id", c.ID), zap.String("event", msg.Event))
	}
}

func (c *Client) source() session.Conn {
	return session.Conn{ID: c.ID, Room: c.Room}
}

// ServeWs handles the WebSocket upgrade and runs the client loop. The room
// query parameter selects the classroom (by convention the teacher username).
func ServeWs(hub *Hub, coord Dispatcher, logger *zap.Logger, sendBuffer int) gin.HandlerFunc {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:     uuid.New().String(),
			Room:   c.Query("room"),
			hub:    hub,
			coord:  coord,
			conn:   conn,
			send:   make(chan WSMessage, sendBuffer),
			logger: logger,
		}
		hub.Register(client)
		logger.Info("new client connected",
			zap.String("client_id", client.ID),
			zap.String("room", client.Room),
			zap.Int("room_size", hub.RoomSize(client.Room)),
		)
		if err := coord.Dispatch(context.Background(), session.Connect{Conn: client.source()}); err != nil {
			logger.Warn("dispatch connect", zap.Error(err))
		}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
		if err := c.coord.Dispatch(context.Background(), session.Disconnect{Conn: c.source()}); err != nil {
			c.logger.Warn("dispatch disconnect", zap.Error(err))
		}
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		ev, err := c.decode(msg)
		if err != nil {
			c.logger.Debug("invalid message", zap.String("client_id", c.ID), zap.String("event", msg.Event), zap.Error(err))
			c.reject(msg.Event, err)
			continue
		}
		if ev == nil {
			continue
		}
		if err := c.coord.Dispatch(context.Background(), ev); err != nil {
			c.logger.Warn("dispatch event", zap.String("event", msg.Event), zap.Error(err))
			return
		}
	}
}

// reject answers an undecodable createPoll so the teacher is not left waiting.
// Other malformed events are dropped.
func (c *Client) reject(event string, err error) {
	if event != "createPoll" {
		return
	}
	c.hub.Send(c.ID, session.EventErrorCreatingPoll, "Invalid poll data: "+err.Error())
}

// pollRef accepts a poll id sent either as a number or as a numeric string.
type pollRef uint

func (p *pollRef) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = 0
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == "" {
			*p = 0
			return nil
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return err
		}
		*p = pollRef(n)
		return nil
	}
	var n uint
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*p = pollRef(n)
	return nil
}

// decode maps an inbound envelope to a session event. Unknown events yield nil.
func (c *Client) decode(msg WSMessage) (session.Event, error) {
	src := c.source()
	switch msg.Event {
	case "joinChat":
		var p struct {
			Username string `json:"username"`
		}
		if err := unmarshal(msg.Data, &p); err != nil {
			return nil, err
		}
		return session.Join{Conn: src, Username: p.Username}, nil
	case "createPoll":
		var p polls.CreateParams
		if err := unmarshal(msg.Data, &p); err != nil {
			return nil, err
		}
		return session.CreatePoll{Conn: src, Params: p}, nil
	case "submitAnswer":
		var p struct {
			Username string  `json:"username"`
			Option   string  `json:"option"`
			PollID   pollRef `json:"pollId"`
		}
		if err := unmarshal(msg.Data, &p); err != nil {
			return nil, err
		}
		return session.SubmitAnswer{Conn: src, Username: p.Username, Option: p.Option, PollID: uint(p.PollID)}, nil
	case "kickOut":
		var name string
		if err := unmarshal(msg.Data, &name); err != nil {
			return nil, err
		}
		return session.Kick{Conn: src, Username: name}, nil
	case "chatMessage":
		return session.ChatMessage{Conn: src, Payload: msg.Data}, nil
	case "studentLogin":
		var name string
		if err := unmarshal(msg.Data, &name); err != nil {
			return nil, err
		}
		return session.StudentLogin{Conn: src, Username: name}, nil
	case "endPoll":
		var p struct {
			PollID pollRef `json:"pollId"`
		}
		if err := unmarshal(msg.Data, &p); err != nil {
			return nil, err
		}
		return session.EndPoll{Conn: src, PollID: uint(p.PollID)}, nil
	default:
		// ignore
		return nil, nil
	}
}

func unmarshal(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
