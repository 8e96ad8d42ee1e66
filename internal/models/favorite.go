package models

import (
	"time"
)

// Favorite is a ticker saved by a user
type Favorite struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"index;size:36" json:"-"`
	Ticker    string    `gorm:"size:32" json:"ticker"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// TableName specifies the table name for Favorite model
func (Favorite) TableName() string {
	return "favorites"
}

type AddFavoriteRequest struct {
	Ticker string `json:"ticker"`
}
