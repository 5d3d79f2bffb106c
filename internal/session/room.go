package session

import (
	"sort"
	"strings"
	"time"
)

// ConnState is the lifecycle state of a connection inside a room.
type ConnState int

const (
	// StateConnected is an anonymous connection.
	StateConnected ConnState = iota + 1
	// StateJoined is a connection that announced a username.
	StateJoined
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	}
	return "disconnected"
}

// teacherPrefix marks usernames that never count as students.
const teacherPrefix = "teacher"

// IsStudent reports whether a username counts toward poll completion.
func IsStudent(username string) bool {
	return !strings.HasPrefix(strings.ToLower(username), teacherPrefix)
}

type conn struct {
	state    ConnState
	username string
}

// room is the ephemeral state of one classroom. Only the dispatch goroutine
// touches it.
type room struct {
	name     string
	conns    map[string]*conn
	joined   []string // connection ids in join order
	tally    map[string]int
	answered map[string]struct{}
	pollID   uint
	pollOpen bool
	timer    *time.Timer
}

func newRoom(name string) *room {
	return &room{
		name:     name,
		conns:    make(map[string]*conn),
		tally:    make(map[string]int),
		answered: make(map[string]struct{}),
	}
}

func (r *room) connect(id string) {
	if _, ok := r.conns[id]; !ok {
		r.conns[id] = &conn{state: StateConnected}
	}
}

func (r *room) join(id, username string) {
	c, ok := r.conns[id]
	if !ok {
		c = &conn{state: StateConnected}
		r.conns[id] = c
	}
	if c.state != StateJoined {
		r.joined = append(r.joined, id)
	}
	c.state = StateJoined
	c.username = username
}

// stateOf returns the lifecycle state of a connection; zero if unknown.
func (r *room) stateOf(id string) ConnState {
	if c, ok := r.conns[id]; ok {
		return c.state
	}
	return 0
}

// remove drops a connection and reports its username (empty if anonymous).
func (r *room) remove(id string) (username string, ok bool) {
	c, ok := r.conns[id]
	if !ok {
		return "", false
	}
	delete(r.conns, id)
	if c.state == StateJoined {
		for i, jid := range r.joined {
			if jid == id {
				r.joined = append(r.joined[:i], r.joined[i+1:]...)
				break
			}
		}
		delete(r.answered, c.username)
		return c.username, true
	}
	return "", true
}

// firstConnFor returns the earliest joined connection using username.
func (r *room) firstConnFor(username string) (string, bool) {
	for _, id := range r.joined {
		if r.conns[id].username == username {
			return id, true
		}
	}
	return "", false
}

func (r *room) participants() []string {
	out := make([]string, 0, len(r.joined))
	for _, id := range r.joined {
		out = append(out, r.conns[id].username)
	}
	return out
}

func (r *room) resetPoll(pollID uint) {
	r.tally = make(map[string]int)
	r.answered = make(map[string]struct{})
	r.pollID = pollID
	r.pollOpen = true
}

func (r *room) tallySnapshot() map[string]int {
	out := make(map[string]int, len(r.tally))
	for k, v := range r.tally {
		out[k] = v
	}
	return out
}

// allStudentsAnswered is derived from current participants on every call.
func (r *room) allStudentsAnswered() bool {
	students := 0
	for _, name := range r.participants() {
		if !IsStudent(name) {
			continue
		}
		students++
		if _, ok := r.answered[name]; !ok {
			return false
		}
	}
	return students > 0
}

func (r *room) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *room) idle() bool {
	return len(r.conns) == 0 && !r.pollOpen && r.timer == nil
}

// State is a read-only copy of a room.
type State struct {
	Room         string         `json:"room"`
	Participants []string       `json:"participants"`
	Tally        map[string]int `json:"tally"`
	Answered     []string       `json:"answered"`
	PollID       uint           `json:"pollId,omitempty"`
	PollOpen     bool           `json:"pollOpen"`
}

func (r *room) state() State {
	answered := make([]string, 0, len(r.answered))
	for name := range r.answered {
		answered = append(answered, name)
	}
	sort.Strings(answered)
	return State{
		Room:         r.name,
		Participants: r.participants(),
		Tally:        r.tallySnapshot(),
		Answered:     answered,
		PollID:       r.pollID,
		PollOpen:     r.pollOpen,
	}
}
