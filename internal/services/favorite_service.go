package services

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/vikasavnish/stockwatch/internal/models"
)

// FavoriteService is the gorm-backed favorites table. Every statement is
// scoped to the owning user.
type FavoriteService struct {
	DB *gorm.DB
}

func NewFavoriteService(db *gorm.DB) *FavoriteService {
	return &FavoriteService{DB: db}
}

// Select gets all favorites for a user, newest first
func (s *FavoriteService) Select(ctx context.Context, userID string) ([]models.Favorite, error) {
	var favorites []models.Favorite

	result := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&favorites)

	return favorites, result.Error
}

// Insert adds a ticker to the user's favorites. Duplicates are not
// rejected here.
func (s *FavoriteService) Insert(ctx context.Context, userID, ticker string) error {
	favorite := models.Favorite{
		UserID: userID,
		Ticker: strings.TrimSpace(ticker),
	}
	return s.DB.WithContext(ctx).Create(&favorite).Error
}

// Delete removes a favorite by row id. Deleting a row that does not exist
// or belongs to someone else is a no-op.
func (s *FavoriteService) Delete(ctx context.Context, userID string, id uint) error {
	return s.DB.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.Favorite{}).Error
}
