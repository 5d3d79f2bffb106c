package polls

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/classpoll/backend/internal/models"
)

var (
	// ErrTeacherNotFound means no teacher has the given username.
	ErrTeacherNotFound = errors.New("Teacher not found")
	// ErrActivePollExists rejects a second active poll for the same teacher.
	ErrActivePollExists = errors.New("An active poll already exists. Complete it before starting a new one.")
	// ErrPollNotFound means no poll has the given id.
	ErrPollNotFound = errors.New("Poll not found")
	// ErrInvalidPoll rejects a poll with a blank question or option.
	ErrInvalidPoll = errors.New("Poll question and option texts are required")
)

// TeacherFinder looks teachers up by username, ignoring case.
type TeacherFinder interface {
	GetByUsername(ctx context.Context, username string) (*models.Teacher, error)
}

// OptionInput is one option of a poll being created.
type OptionInput struct {
	Text    string `json:"text"`
	Correct Flag   `json:"correct"`
}

// CreateParams describes a poll to create.
type CreateParams struct {
	TeacherUsername string        `json:"teacherUsername"`
	Question        string        `json:"question"`
	Timer           Seconds       `json:"timer"`
	Options         []OptionInput `json:"options"`
}

// Service implements poll creation, voting and history.
type Service struct {
	repo     *Repository
	teachers TeacherFinder
	logger   *zap.Logger
}

// NewService creates a poll service.
func NewService(repo *Repository, teachers TeacherFinder, logger *zap.Logger) *Service {
	return &Service{repo: repo, teachers: teachers, logger: logger}
}

func (s *Service) teacher(ctx context.Context, username string) (*models.Teacher, error) {
	t, err := s.teachers.GetByUsername(ctx, username)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTeacherNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find teacher: %w", err)
	}
	return t, nil
}

// CreatePoll starts a new active poll for a teacher. It is the only way a
// poll becomes active, and fails with ErrActivePollExists while the teacher
// still has one.
func (s *Service) CreatePoll(ctx context.Context, params CreateParams) (*models.Poll, error) {
	s.logger.Info("creating poll", zap.String("teacher", params.TeacherUsername))

	if strings.TrimSpace(params.Question) == "" {
		return nil, ErrInvalidPoll
	}
	for _, o := range params.Options {
		if strings.TrimSpace(o.Text) == "" {
			return nil, ErrInvalidPoll
		}
	}

	t, err := s.teacher(ctx, params.TeacherUsername)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindActiveByTeacher(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("find active poll: %w", err)
	}
	if existing != nil {
		return nil, ErrActivePollExists
	}

	timer := int(params.Timer)
	if timer <= 0 {
		timer = models.DefaultTimerSeconds
	}
	p := &models.Poll{
		Question:  params.Question,
		Timer:     timer,
		Status:    models.PollActive,
		TeacherID: t.ID,
		Options:   make([]models.Option, 0, len(params.Options)),
	}
	for _, o := range params.Options {
		p.Options = append(p.Options, models.Option{Text: o.Text, Correct: bool(o.Correct)})
	}

	if err := s.repo.Create(ctx, p); err != nil {
		// Lost a race with another create; the partial unique index caught it.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrActivePollExists
		}
		return nil, fmt.Errorf("create poll: %w", err)
	}

	created, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("reload poll: %w", err)
	}
	s.logger.Info("poll created", zap.Uint("poll_id", created.ID), zap.Int("options", len(created.Options)))
	return created, nil
}

// RecordVote adds one vote to the option with this exact text. An unknown
// option is logged and ignored. Duplicate votes are not detected here.
func (s *Service) RecordVote(ctx context.Context, pollID uint, optionText string) error {
	o, err := s.repo.FindOption(ctx, pollID, optionText)
	if err != nil {
		return fmt.Errorf("find option: %w", err)
	}
	if o == nil {
		s.logger.Warn("option not found", zap.Uint("poll_id", pollID), zap.String("option", optionText))
		return nil
	}
	if err := s.repo.IncrementVotes(ctx, o.ID); err != nil {
		return fmt.Errorf("increment votes: %w", err)
	}
	s.logger.Debug("vote registered", zap.Uint("poll_id", pollID), zap.String("option", o.Text))
	return nil
}

// CompletePoll marks an active poll completed. It reports false without error
// when the poll was already completed.
func (s *Service) CompletePoll(ctx context.Context, pollID uint) (bool, error) {
	p, err := s.repo.GetByID(ctx, pollID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrPollNotFound
	}
	if err != nil {
		return false, fmt.Errorf("find poll: %w", err)
	}
	from := p.Status
	if err := p.Complete(); err != nil {
		return false, nil
	}
	changed, err := s.repo.UpdateStatus(ctx, p.ID, from, p.Status)
	if err != nil {
		return false, fmt.Errorf("complete poll: %w", err)
	}
	if changed {
		s.logger.Info("poll completed", zap.Uint("poll_id", pollID))
	}
	return changed, nil
}

// ListPolls returns a teacher's polls, newest first, with their options.
func (s *Service) ListPolls(ctx context.Context, teacherUsername string) ([]models.Poll, error) {
	t, err := s.teacher(ctx, teacherUsername)
	if err != nil {
		return nil, err
	}
	list, err := s.repo.ListByTeacher(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	if list == nil {
		list = []models.Poll{}
	}
	return list, nil
}
