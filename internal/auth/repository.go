package auth

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/classpoll/backend/internal/models"
)

// ErrUsernameTaken is returned when a username already exists (any case).
var ErrUsernameTaken = errors.New("username already taken")

// Repository handles teacher persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a teacher repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new teacher.
func (r *Repository) Create(ctx context.Context, username string) (*models.Teacher, error) {
	t := &models.Teacher{Username: username}
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return t, nil
}

// GetByUsername returns a teacher by username, ignoring case.
// Returns gorm.ErrRecordNotFound when there is no such teacher.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*models.Teacher, error) {
	var t models.Teacher
	err := r.db.WithContext(ctx).
		Where("LOWER(username) = LOWER(?)", username).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}
