package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/vikasavnish/stockwatch/internal/models"
)

// Identity is the authenticated user a session belongs to
type Identity struct {
	UserID    string
	Email     string
	SessionID string
}

// Options tune token lifetimes and signup policy
type Options struct {
	SecretKey     []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetTokenTTL time.Duration
	MinPassword   int
	ConfirmEmail  bool
}

// Backend is the email+password identity service
type Backend struct {
	db       *gorm.DB
	sessions SessionStore
	opts     Options
	now      func() time.Time
}

// NewBackend creates a new identity backend
func NewBackend(db *gorm.DB, sessions SessionStore, opts Options) *Backend {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = time.Hour
	}
	if opts.RefreshTTL < opts.AccessTTL {
		opts.RefreshTTL = opts.AccessTTL
	}
	if opts.ResetTokenTTL <= 0 {
		opts.ResetTokenTTL = time.Hour
	}
	if opts.MinPassword <= 0 {
		opts.MinPassword = 6
	}
	return &Backend{db: db, sessions: sessions, opts: opts, now: time.Now}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp registers a user. The returned session is nil when the account
// must be confirmed by email before it can sign in.
func (b *Backend) SignUp(ctx context.Context, email, password string) (models.SessionUser, *models.Session, error) {
	email = normalizeEmail(email)
	if email == "" {
		return models.SessionUser{}, nil, ErrEmailRequired
	}
	if len(password) < b.opts.MinPassword {
		return models.SessionUser{}, nil, weakPasswordError(b.opts.MinPassword)
	}

	var count int64
	if err := b.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return models.SessionUser{}, nil, err
	}
	if count > 0 {
		return models.SessionUser{}, nil, ErrUserExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.SessionUser{}, nil, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		ID:             uuid.NewString(),
		Email:          email,
		HashedPassword: string(hashed),
	}
	if !b.opts.ConfirmEmail {
		now := b.now()
		user.ConfirmedAt = &now
	}
	if err := b.db.WithContext(ctx).Create(&user).Error; err != nil {
		return models.SessionUser{}, nil, err
	}
	sessionUser := models.SessionUser{ID: user.ID, Email: user.Email}

	if b.opts.ConfirmEmail {
		token := uuid.NewString()
		if err := b.sessions.SaveToken(ctx, TokenConfirmEmail, token, user.ID, b.opts.ResetTokenTTL); err != nil {
			return sessionUser, nil, err
		}
		// No mailer is wired; the link is logged for the operator.
		log.Info().Str("email", email).Str("token", token).Msg("Confirmation token issued")
		return sessionUser, nil, nil
	}

	session, err := b.issueSession(ctx, &user)
	if err != nil {
		return sessionUser, nil, err
	}
	return sessionUser, session, nil
}

// SignIn checks the credentials and opens a new session
func (b *Backend) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	var user models.User
	err := b.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.ConfirmedAt == nil {
		return nil, ErrEmailNotConfirmed
	}

	return b.issueSession(ctx, &user)
}

// SignOut ends a session. Ending an unknown session is not an error.
func (b *Backend) SignOut(ctx context.Context, sessionID string) error {
	return b.sessions.Delete(ctx, sessionID)
}

// Refresh exchanges a refresh token for a new access token on the same session
func (b *Backend) Refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	sessionID, _, ok := strings.Cut(refreshToken, ".")
	if !ok {
		return nil, ErrInvalidToken
	}
	rec, err := b.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec.RefreshToken != refreshToken {
		return nil, ErrInvalidToken
	}

	// Rotate the refresh token; the old one stops working.
	rec.RefreshToken = newRefreshToken(rec.ID)
	rec.ExpiresAt = b.now().Add(b.opts.RefreshTTL)
	if err := b.sessions.Save(ctx, *rec); err != nil {
		return nil, err
	}
	return b.sessionFromRecord(rec)
}

// Session validates an access token and returns the live session it belongs to
func (b *Backend) Session(ctx context.Context, accessToken string) (*models.Session, error) {
	claims, err := b.parse(accessToken)
	if err != nil {
		return nil, err
	}
	rec, err := b.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != claims.Subject {
		return nil, ErrInvalidToken
	}
	return &models.Session{
		ID:           rec.ID,
		AccessToken:  accessToken,
		RefreshToken: rec.RefreshToken,
		TokenType:    "bearer",
		ExpiresAt:    time.Unix(claims.ExpiresAt, 0),
		User:         models.SessionUser{ID: rec.UserID, Email: rec.Email},
	}, nil
}

// Verify resolves an access token to the identity it was issued for
func (b *Backend) Verify(ctx context.Context, accessToken string) (Identity, error) {
	session, err := b.Session(ctx, accessToken)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: session.User.ID, Email: session.User.Email, SessionID: session.ID}, nil
}

// RequestPasswordReset issues a recovery token. Unknown addresses succeed
// silently so callers cannot probe for accounts.
func (b *Backend) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrEmailRequired
	}
	var user models.User
	err := b.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token := uuid.NewString()
	if err := b.sessions.SaveToken(ctx, TokenPasswordReset, token, user.ID, b.opts.ResetTokenTTL); err != nil {
		return err
	}
	log.Info().Str("email", email).Str("token", token).Msg("Password reset token issued")
	return nil
}

// ResetPassword sets a new password using a recovery token
func (b *Backend) ResetPassword(ctx context.Context, token, password string) error {
	if len(password) < b.opts.MinPassword {
		return weakPasswordError(b.opts.MinPassword)
	}
	userID, err := b.sessions.TakeToken(ctx, TokenPasswordReset, token)
	if err != nil {
		return err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return b.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("hashed_password", string(hashed)).Error
}

// ConfirmEmail marks the account behind a confirmation token as confirmed
func (b *Backend) ConfirmEmail(ctx context.Context, token string) error {
	userID, err := b.sessions.TakeToken(ctx, TokenConfirmEmail, token)
	if err != nil {
		return err
	}
	return b.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("confirmed_at", b.now()).Error
}

func newRefreshToken(sessionID string) string {
	return sessionID + "." + uuid.NewString()
}

func (b *Backend) issueSession(ctx context.Context, user *models.User) (*models.Session, error) {
	id := uuid.NewString()
	rec := &SessionRecord{
		ID:           id,
		UserID:       user.ID,
		Email:        user.Email,
		RefreshToken: newRefreshToken(id),
		ExpiresAt:    b.now().Add(b.opts.RefreshTTL),
	}
	if err := b.sessions.Save(ctx, *rec); err != nil {
		return nil, err
	}
	return b.sessionFromRecord(rec)
}

func (b *Backend) sessionFromRecord(rec *SessionRecord) (*models.Session, error) {
	now := b.now()
	expiresAt := now.Add(b.opts.AccessTTL)
	claims := &models.Claims{
		Email:     rec.Email,
		SessionID: rec.ID,
		StandardClaims: jwt.StandardClaims{
			Subject:   rec.UserID,
			ExpiresAt: expiresAt.Unix(),
			IssuedAt:  now.Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(b.opts.SecretKey)
	if err != nil {
		return nil, err
	}

	return &models.Session{
		ID:           rec.ID,
		AccessToken:  tokenString,
		RefreshToken: rec.RefreshToken,
		TokenType:    "bearer",
		ExpiresAt:    time.Unix(expiresAt.Unix(), 0),
		User:         models.SessionUser{ID: rec.UserID, Email: rec.Email},
	}, nil
}

func (b *Backend) parse(accessToken string) (*models.Claims, error) {
	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(accessToken, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return b.opts.SecretKey, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
