package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classpoll/backend/internal/auth"
	"github.com/classpoll/backend/internal/models"
	"github.com/classpoll/backend/internal/polls"
	"github.com/classpoll/backend/internal/realtime"
	"github.com/classpoll/backend/internal/session"
	"github.com/classpoll/backend/internal/testutil"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	db := testutil.NewDB(t)

	teachers := auth.NewRepository(db)
	service := polls.NewService(polls.NewRepository(db), teachers, logger)
	hub := realtime.NewHub(logger, nil)
	coord := session.NewCoordinator(service, hub, logger, session.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = coord.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(New(Deps{
		Logger:      logger,
		CORSOrigins: "*",
		Auth:        auth.NewHandler(teachers, logger),
		Polls:       polls.NewHandler(service, logger),
		Sessions:    session.NewHandler(coord, logger),
		Hub:         hub,
		Coordinator: coord,
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return srv
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server, room string) *wsClient {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?room=" + url.QueryEscape(room)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) emit(event string, data interface{}) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(realtime.WSMessage{Event: event, Data: raw}))
}

// waitFor reads until the named event arrives and returns its data.
func (c *wsClient) waitFor(event string) json.RawMessage {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg realtime.WSMessage
		require.NoError(c.t, c.conn.ReadJSON(&msg), "waiting for %s", event)
		if msg.Event == event {
			return msg.Data
		}
	}
}

// waitForParticipants reads participant updates until one matches want.
func (c *wsClient) waitForParticipants(want ...string) {
	c.t.Helper()
	for {
		var got []string
		require.NoError(c.t, json.Unmarshal(c.waitFor(session.EventParticipantsUpdate), &got))
		if assert.ObjectsAreEqual(want, got) {
			return
		}
	}
}

func TestLiveness(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, LivenessText, string(body))
}

func TestClassroomFlow(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/teacher-login", "application/json", nil)
	require.NoError(t, err)
	var login auth.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	teacherName := login.Username

	teacher := dial(t, srv, teacherName)
	teacher.emit("joinChat", map[string]string{"username": teacherName})
	teacher.waitForParticipants(teacherName)

	teacher.emit("createPoll", map[string]interface{}{
		"teacherUsername": teacherName,
		"question":        "What is 2+2?",
		"timer":           30,
		"options":         []map[string]interface{}{{"text": "3", "correct": false}, {"text": "4", "correct": true}},
	})
	var poll models.Poll
	require.NoError(t, json.Unmarshal(teacher.waitFor(session.EventPollCreated), &poll))
	assert.Equal(t, 30, poll.Timer)
	require.Len(t, poll.Options, 2)

	teacher.emit("createPoll", map[string]interface{}{
		"teacherUsername": teacherName,
		"question":        "Too soon",
		"options":         []map[string]interface{}{{"text": "a"}},
	})
	var msg string
	require.NoError(t, json.Unmarshal(teacher.waitFor(session.EventErrorCreatingPoll), &msg))
	assert.True(t, strings.HasPrefix(msg, "An active poll already exists"))

	alice := dial(t, srv, teacherName)
	alice.emit("joinChat", map[string]string{"username": "alice"})
	alice.waitForParticipants(teacherName, "alice")
	bob := dial(t, srv, teacherName)
	bob.emit("joinChat", map[string]string{"username": "bob"})
	bob.waitForParticipants(teacherName, "alice", "bob")

	// Missing pollId is dropped without a reply.
	alice.emit("submitAnswer", map[string]interface{}{"username": "alice", "option": "4"})

	alice.emit("submitAnswer", map[string]interface{}{"username": "alice", "option": "4", "pollId": poll.ID})
	var tally map[string]int
	require.NoError(t, json.Unmarshal(teacher.waitFor(session.EventPollResults), &tally))
	assert.Equal(t, map[string]int{"4": 1}, tally)

	bob.emit("submitAnswer", map[string]interface{}{"username": "bob", "option": "4", "pollId": poll.ID})
	require.NoError(t, json.Unmarshal(teacher.waitFor(session.EventPollResults), &tally))
	assert.Equal(t, map[string]int{"4": 2}, tally)
	teacher.waitFor(session.EventPollOver)
	alice.waitFor(session.EventPollOver)

	resp, err = http.Get(srv.URL + "/polls/" + teacherName)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history struct {
		Data []models.Poll `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history.Data, 1)
	assert.Equal(t, models.PollCompleted, history.Data[0].Status)
	votes := map[string]int{}
	for _, o := range history.Data[0].Options {
		votes[o.Text] = o.Votes
	}
	assert.Equal(t, map[string]int{"3": 0, "4": 2}, votes)
}

func TestKickClosesOnlyFirstConnection(t *testing.T) {
	srv := newTestServer(t)
	const room = "teacher1234"

	first := dial(t, srv, room)
	first.emit("joinChat", map[string]string{"username": "alice"})
	first.waitForParticipants("alice")
	second := dial(t, srv, room)
	second.emit("joinChat", map[string]string{"username": "alice"})
	second.waitForParticipants("alice", "alice")

	second.emit("kickOut", "alice")

	var kicked session.Message
	require.NoError(t, json.Unmarshal(first.waitFor(session.EventKickedOut), &kicked))
	assert.Equal(t, "You have been kicked out.", kicked.Message)

	require.NoError(t, first.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var m realtime.WSMessage
		if err := first.conn.ReadJSON(&m); err != nil {
			var ne net.Error
			require.False(t, errors.As(err, &ne) && ne.Timeout(), "kicked connection was not closed")
			break
		}
	}

	second.waitForParticipants("alice")

	resp, err := http.Get(srv.URL + "/rooms/" + room)
	require.NoError(t, err)
	defer resp.Body.Close()
	var state struct {
		Data session.State `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, []string{"alice"}, state.Data.Participants)
}
