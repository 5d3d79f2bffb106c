package polls

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/classpoll/backend/internal/models"
)

// Repository handles poll and option persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a polls repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func withOptions(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}

// Create inserts a poll together with its options.
func (r *Repository) Create(ctx context.Context, p *models.Poll) error {
	return r.db.WithContext(ctx).Create(p).Error
}

// GetByID returns a poll with its options.
func (r *Repository) GetByID(ctx context.Context, id uint) (*models.Poll, error) {
	var p models.Poll
	err := r.db.WithContext(ctx).Preload("Options", withOptions).First(&p, id).Error
	if err != nil {
		return nil, err
	}
	if p.Options == nil {
		p.Options = []models.Option{}
	}
	return &p, nil
}

// FindActiveByTeacher returns the teacher's active poll, or nil when none.
func (r *Repository) FindActiveByTeacher(ctx context.Context, teacherID uint) (*models.Poll, error) {
	var p models.Poll
	err := r.db.WithContext(ctx).
		Where("teacher_id = ? AND status = ?", teacherID, models.PollActive).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindOption returns the option of a poll with exactly this text, or nil.
func (r *Repository) FindOption(ctx context.Context, pollID uint, text string) (*models.Option, error) {
	var o models.Option
	err := r.db.WithContext(ctx).
		Where("poll_id = ? AND text = ?", pollID, text).
		Order("id ASC").
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// IncrementVotes adds one vote to an option in a single UPDATE.
func (r *Repository) IncrementVotes(ctx context.Context, optionID uint) error {
	return r.db.WithContext(ctx).
		Model(&models.Option{}).
		Where("id = ?", optionID).
		UpdateColumn("votes", gorm.Expr("votes + ?", 1)).Error
}

// UpdateStatus sets a new status only if the poll still has the expected one.
// Reports whether a row changed.
func (r *Repository) UpdateStatus(ctx context.Context, id uint, from, to models.PollStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Poll{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListByTeacher returns all polls of a teacher, newest first, with options.
func (r *Repository) ListByTeacher(ctx context.Context, teacherID uint) ([]models.Poll, error) {
	var list []models.Poll
	err := r.db.WithContext(ctx).
		Preload("Options", withOptions).
		Where("teacher_id = ?", teacherID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Options == nil {
			list[i].Options = []models.Option{}
		}
	}
	return list, nil
}
