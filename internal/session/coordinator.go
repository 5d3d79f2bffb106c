// Package session coordinates live classrooms: who is connected, the current
// poll, its tally and who has answered.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/classpoll/backend/internal/models"
	"github.com/classpoll/backend/internal/polls"
)

// ErrStopped is returned by Dispatch once Run has returned.
var ErrStopped = errors.New("session coordinator stopped")

const kickedOutMessage = "You have been kicked out."

// PollService is the persistence side of polls.
type PollService interface {
	CreatePoll(ctx context.Context, params polls.CreateParams) (*models.Poll, error)
	RecordVote(ctx context.Context, pollID uint, optionText string) error
	CompletePoll(ctx context.Context, pollID uint) (bool, error)
}

// Broadcaster delivers outbound events to connections.
type Broadcaster interface {
	Broadcast(room, event string, payload interface{})
	Send(connID, event string, payload interface{})
	Disconnect(connID string)
}

// Options tune the coordinator.
type Options struct {
	// StoreTimeout bounds each PollService call.
	StoreTimeout time.Duration
	// EnforceTimer completes a poll server-side when its timer runs out.
	EnforceTimer bool
	// TimerUnit is the length of one poll timer tick (one second in production).
	TimerUnit time.Duration
	// QueueSize is the capacity of the event queue.
	QueueSize int
}

func (o *Options) setDefaults() {
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.TimerUnit <= 0 {
		o.TimerUnit = time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
}

type envelope struct {
	ev   Event
	done chan struct{}
}

// Coordinator owns every room. Events are processed one at a time by Run,
// including the PollService calls they make.
type Coordinator struct {
	polls   PollService
	out     Broadcaster
	logger  *zap.Logger
	opts    Options
	events  chan envelope
	stopped chan struct{}
	rooms   map[string]*room
}

// NewCoordinator creates a coordinator. Call Run to start processing.
func NewCoordinator(svc PollService, out Broadcaster, logger *zap.Logger, opts Options) *Coordinator {
	opts.setDefaults()
	return &Coordinator{
		polls:   svc,
		out:     out,
		logger:  logger,
		opts:    opts,
		events:  make(chan envelope, opts.QueueSize),
		stopped: make(chan struct{}),
		rooms:   make(map[string]*room),
	}
}

// Run processes events until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	defer func() {
		for _, r := range c.rooms {
			r.stopTimer()
		}
		close(c.stopped)
	}()
	c.logger.Info("session coordinator started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("session coordinator stopped")
			return ctx.Err()
		case env := <-c.events:
			c.handle(ctx, env.ev)
			if env.done != nil {
				close(env.done)
			}
		}
	}
}

// Dispatch queues an event and waits until it has been processed.
func (c *Coordinator) Dispatch(ctx context.Context, ev Event) error {
	done := make(chan struct{})
	select {
	case c.events <- envelope{ev: ev, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
}

// Snapshot returns a copy of a room's state.
func (c *Coordinator) Snapshot(ctx context.Context, roomName string) (State, error) {
	reply := make(chan State, 1)
	if err := c.Dispatch(ctx, snapshotRequest{Conn: Conn{Room: roomName}, reply: reply}); err != nil {
		return State{}, err
	}
	return <-reply, nil
}

// post queues an event without waiting; used by timers.
func (c *Coordinator) post(ev Event) {
	select {
	case c.events <- envelope{ev: ev}:
	case <-c.stopped:
	}
}

func (c *Coordinator) room(name string) *room {
	r, ok := c.rooms[name]
	if !ok {
		r = newRoom(name)
		c.rooms[name] = r
	}
	return r
}

func (c *Coordinator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opts.StoreTimeout)
}

func (c *Coordinator) handle(ctx context.Context, ev Event) {
	src := ev.origin()
	r := c.room(src.Room)

	switch e := ev.(type) {
	case Connect:
		r.connect(e.ID)
		c.logger.Debug("client connected", zap.String("conn_id", e.ID), zap.String("room", e.Room))
	case Join:
		c.join(r, e)
	case CreatePoll:
		c.createPoll(ctx, r, e)
	case SubmitAnswer:
		c.submitAnswer(ctx, r, e)
	case Kick:
		c.kick(r, e)
	case ChatMessage:
		payload := e.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		c.out.Broadcast(r.name, EventChatMessage, payload)
	case StudentLogin:
		c.logger.Info("student logged in", zap.String("username", e.Username))
		c.out.Send(e.ID, EventLoginSuccess, Message{Message: "Login successful", Name: e.Username})
	case EndPoll:
		c.endPoll(ctx, r, e)
	case Disconnect:
		c.disconnect(r, e)
	case timerExpired:
		if r.pollOpen && r.pollID == e.pollID {
			c.logger.Info("poll timer expired", zap.String("room", r.name), zap.Uint("poll_id", e.pollID))
			r.timer = nil
			c.complete(ctx, r, e.pollID)
		}
	case snapshotRequest:
		e.reply <- r.state()
	default:
		c.logger.Warn("unhandled session event", zap.String("room", src.Room))
	}

	if r.idle() {
		delete(c.rooms, r.name)
	}
}

func (c *Coordinator) broadcastParticipants(r *room) {
	c.out.Broadcast(r.name, EventParticipantsUpdate, r.participants())
}

func (c *Coordinator) join(r *room, e Join) {
	r.join(e.ID, e.Username)
	c.logger.Info("participant joined",
		zap.String("room", r.name),
		zap.String("username", e.Username),
		zap.Int("total", len(r.joined)),
	)
	c.broadcastParticipants(r)
}

func (c *Coordinator) createPoll(ctx context.Context, r *room, e CreatePoll) {
	c.logger.Info("poll creation requested", zap.String("room", r.name), zap.String("teacher", e.Params.TeacherUsername))

	sctx, cancel := c.storeCtx(ctx)
	poll, err := c.polls.CreatePoll(sctx, e.Params)
	cancel()
	if err != nil {
		c.logger.Warn("error creating poll", zap.String("room", r.name), zap.Error(err))
		c.out.Send(e.ID, EventErrorCreatingPoll, err.Error())
		return
	}

	r.stopTimer()
	r.resetPoll(poll.ID)
	if c.opts.EnforceTimer && poll.Timer > 0 {
		ev := timerExpired{Conn: Conn{Room: r.name}, pollID: poll.ID}
		r.timer = time.AfterFunc(time.Duration(poll.Timer)*c.opts.TimerUnit, func() { c.post(ev) })
	}
	c.out.Broadcast(r.name, EventPollCreated, poll)
}

func (c *Coordinator) submitAnswer(ctx context.Context, r *room, e SubmitAnswer) {
	if e.Username == "" || e.Option == "" || e.PollID == 0 {
		c.logger.Warn("invalid answer received",
			zap.String("username", e.Username),
			zap.String("option", e.Option),
			zap.Uint("poll_id", e.PollID),
		)
		return
	}
	if e.PollID != r.pollID {
		c.logger.Warn("answer for a poll outside this room",
			zap.String("room", r.name),
			zap.String("username", e.Username),
			zap.Uint("poll_id", e.PollID),
			zap.Uint("room_poll_id", r.pollID),
		)
		return
	}

	r.tally[e.Option]++
	r.answered[e.Username] = struct{}{}

	sctx, cancel := c.storeCtx(ctx)
	if err := c.polls.RecordVote(sctx, e.PollID, e.Option); err != nil {
		c.logger.Error("error while voting", zap.Uint("poll_id", e.PollID), zap.Error(err))
	}
	cancel()

	c.out.Broadcast(r.name, EventPollResults, r.tallySnapshot())

	if r.allStudentsAnswered() {
		c.logger.Info("all students have answered", zap.String("room", r.name), zap.Uint("poll_id", e.PollID))
		c.complete(ctx, r, e.PollID)
		return
	}
	c.logger.Debug("still waiting for answers", zap.String("room", r.name), zap.Int("answered", len(r.answered)))
}

// complete persists the transition best-effort and announces the end of the
// poll whether or not the store update succeeded.
func (c *Coordinator) complete(ctx context.Context, r *room, pollID uint) {
	sctx, cancel := c.storeCtx(ctx)
	if _, err := c.polls.CompletePoll(sctx, pollID); err != nil {
		c.logger.Error("error updating poll status", zap.Uint("poll_id", pollID), zap.Error(err))
	}
	cancel()

	if pollID == r.pollID {
		r.pollOpen = false
		r.stopTimer()
	}
	c.out.Broadcast(r.name, EventPollOver, nil)
}

func (c *Coordinator) endPoll(ctx context.Context, r *room, e EndPoll) {
	pollID := e.PollID
	if pollID == 0 {
		pollID = r.pollID
	}
	if pollID == 0 {
		c.logger.Warn("end poll without a poll", zap.String("room", r.name))
		return
	}
	if pollID != r.pollID {
		c.logger.Warn("end poll outside this room", zap.String("room", r.name), zap.Uint("poll_id", pollID))
		return
	}
	c.logger.Info("poll ended by teacher", zap.String("room", r.name), zap.Uint("poll_id", pollID))
	c.complete(ctx, r, pollID)
}

func (c *Coordinator) kick(r *room, e Kick) {
	c.logger.Info("kick requested", zap.String("room", r.name), zap.String("username", e.Username))
	if id, ok := r.firstConnFor(e.Username); ok {
		c.out.Send(id, EventKickedOut, Message{Message: kickedOutMessage})
		c.out.Disconnect(id)
		r.remove(id)
		c.logger.Info("participant kicked", zap.String("username", e.Username), zap.String("conn_id", id))
	}
	c.broadcastParticipants(r)
}

func (c *Coordinator) disconnect(r *room, e Disconnect) {
	state := r.stateOf(e.ID)
	username, ok := r.remove(e.ID)
	if !ok {
		return
	}
	c.logger.Info("client disconnected",
		zap.String("room", r.name),
		zap.String("conn_id", e.ID),
		zap.String("username", username),
		zap.Stringer("state", state),
	)
	c.broadcastParticipants(r)
}
