package users

import (
	"context"
	"errors"

	"github.com/fortunelab/fortune-gateway/internal/models"
	"github.com/fortunelab/fortune-gateway/internal/services/database"

	"gorm.io/gorm"
)

// Service is the read-only profile lookup feeding the prompt builder.
type Service struct {
	db *database.DB
}

// NewService creates a user profile service.
func NewService(db *database.DB) *Service {
	return &Service{db: db}
}

// FindByUID resolves a fortune telling uid to the stored profile.
func (s *Service) FindByUID(ctx context.Context, uid string) (*models.FortuneUser, error) {
	var user models.FortuneUser
	err := s.db.WithContext(ctx).Where("fortune_telling_uid = ?", uid).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("fortune user not found")
	}
	if err != nil {
		return nil, models.NewPersistenceError("user lookup failed", err)
	}
	return &user, nil
}
