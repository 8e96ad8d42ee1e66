package models

import (
	"time"

	"github.com/dgrijalva/jwt-go"
)

// User is an account known to the identity backend
type User struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	Email          string     `gorm:"uniqueIndex" json:"email"`
	HashedPassword string     `json:"-" gorm:"column:hashed_password"`
	ConfirmedAt    *time.Time `json:"confirmedAt,omitempty" gorm:"column:confirmed_at"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "users"
}

// Profile is the public per-user record written after signup
type Profile struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Email     string    `json:"email"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for Profile model
func (Profile) TableName() string {
	return "profiles"
}

// Claims for JWT authentication
type Claims struct {
	Email     string `json:"email"`
	SessionID string `json:"sid"`
	jwt.StandardClaims
}

// SessionUser is the user part of a session
type SessionUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is an authenticated session issued by the identity backend
type Session struct {
	ID           string      `json:"id"`
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresAt    time.Time   `json:"expires_at"`
	User         SessionUser `json:"user"`
}

type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RecoverRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// SignUpResponse carries the session when email confirmation is disabled,
// otherwise only the created user.
type SignUpResponse struct {
	User    SessionUser `json:"user"`
	Session *Session    `json:"session"`
}
