package models

import (
	"errors"
	"fmt"
	"time"
)

// DefaultTimerSeconds is used when a poll is created without a timer.
const DefaultTimerSeconds = 60

// PollStatus is the lifecycle state of a poll.
type PollStatus string

const (
	PollActive    PollStatus = "active"
	PollCompleted PollStatus = "completed"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid poll status transition")

// Valid reports whether s is a known status.
func (s PollStatus) Valid() bool {
	switch s {
	case PollActive, PollCompleted:
		return true
	}
	return false
}

// TransitionTo returns the next status, or ErrInvalidTransition.
// The only legal move is active -> completed.
func (s PollStatus) TransitionTo(next PollStatus) (PollStatus, error) {
	if !s.Valid() || !next.Valid() {
		return s, fmt.Errorf("%w: unknown status %q -> %q", ErrInvalidTransition, s, next)
	}
	switch s {
	case PollActive:
		if next == PollCompleted {
			return next, nil
		}
	case PollCompleted:
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
}

// Poll is a single question with fixed options.
type Poll struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	Question  string     `json:"question" gorm:"not null"`
	Timer     int        `json:"timer" gorm:"not null;default:60"`
	Status    PollStatus `json:"status" gorm:"size:16;not null;default:active;index"`
	TeacherID uint       `json:"teacherId" gorm:"not null;index"`
	Options   []Option   `json:"options" gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Complete moves the poll to completed.
func (p *Poll) Complete() error {
	next, err := p.Status.TransitionTo(PollCompleted)
	if err != nil {
		return err
	}
	p.Status = next
	return nil
}

// Option is one answer choice of a poll. Correct is informational only.
type Option struct {
	ID      uint   `json:"id" gorm:"primaryKey"`
	Text    string `json:"text" gorm:"not null"`
	Correct bool   `json:"correct" gorm:"not null;default:false"`
	Votes   int    `json:"votes" gorm:"not null;default:0"`
	PollID  uint   `json:"pollId" gorm:"not null;index"`
}
