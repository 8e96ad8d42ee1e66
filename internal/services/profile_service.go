package services

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vikasavnish/stockwatch/internal/models"
)

// ProfileService writes the public profile row of a user
type ProfileService struct {
	DB *gorm.DB
}

func NewProfileService(db *gorm.DB) *ProfileService {
	return &ProfileService{DB: db}
}

// Upsert creates the profile or refreshes its email
func (s *ProfileService) Upsert(ctx context.Context, userID, email string) error {
	profile := models.Profile{
		ID:        userID,
		Email:     email,
		UpdatedAt: time.Now(),
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "updated_at"}),
	}).Create(&profile).Error
}
