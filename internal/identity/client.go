package identity

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vikasavnish/stockwatch/internal/models"
)

// EventType names a session change
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// Event is pushed to subscribers whenever the client's session changes.
// Session is nil after sign-out.
type Event struct {
	Type    EventType       `json:"event"`
	Session *models.Session `json:"session"`
}

// Authenticator is the part of the identity backend a Client talks to
type Authenticator interface {
	SignUp(ctx context.Context, email, password string) (models.SessionUser, *models.Session, error)
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	SignOut(ctx context.Context, sessionID string) error
	Refresh(ctx context.Context, refreshToken string) (*models.Session, error)
	Session(ctx context.Context, accessToken string) (*models.Session, error)
	RequestPasswordReset(ctx context.Context, email string) error
}

// Subscription is returned by OnAuthStateChange
type Subscription struct {
	once        sync.Once
	unsubscribe func()
}

// Unsubscribe stops event delivery. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.unsubscribe)
}

const defaultRefreshMargin = time.Minute

// Client holds the session of one application instance, the way a hosted
// auth SDK does on a device: it remembers the current session, refreshes it
// before the access token expires and notifies subscribers of changes.
type Client struct {
	auth          Authenticator
	refreshMargin time.Duration

	mu           sync.Mutex
	session      *models.Session
	listeners    map[int]func(Event)
	nextID       int
	refreshTimer *time.Timer
	closed       bool
}

// NewClient creates a client. persisted is a session restored from the
// device (it may hold only an access token) and may be nil.
func NewClient(auth Authenticator, persisted *models.Session) *Client {
	return &Client{
		auth:          auth,
		refreshMargin: defaultRefreshMargin,
		session:       persisted,
		listeners:     make(map[int]func(Event)),
	}
}

// GetSession validates the held session against the backend and returns
// it, refreshing it first when the access token is no longer accepted.
// A nil session with a nil error means nobody is signed in.
func (c *Client) GetSession(ctx context.Context) (*models.Session, error) {
	c.mu.Lock()
	held := c.session
	c.mu.Unlock()
	if held == nil {
		return nil, nil
	}

	session, err := c.auth.Session(ctx, held.AccessToken)
	if err != nil && held.RefreshToken != "" {
		session, err = c.auth.Refresh(ctx, held.RefreshToken)
	}
	if err != nil {
		c.setSession(nil)
		return nil, err
	}
	c.setSession(session)
	return session, nil
}

// SignInWithPassword opens a session and emits SIGNED_IN
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	session, err := c.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.setSession(session)
	c.emit(Event{Type: EventSignedIn, Session: session})
	return session, nil
}

// SignUp registers an account. When the backend returns a session the
// client is signed in straight away.
func (c *Client) SignUp(ctx context.Context, email, password string) (models.SessionUser, *models.Session, error) {
	user, session, err := c.auth.SignUp(ctx, email, password)
	if err != nil {
		return user, nil, err
	}
	if session != nil {
		c.setSession(session)
		c.emit(Event{Type: EventSignedIn, Session: session})
	}
	return user, session, nil
}

// SignOut ends the current session and emits SIGNED_OUT. The local session
// is dropped even if the backend call fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	held := c.session
	c.mu.Unlock()

	var err error
	if held != nil && held.ID != "" {
		err = c.auth.SignOut(ctx, held.ID)
	}
	c.setSession(nil)
	c.emit(Event{Type: EventSignedOut})
	return err
}

// ResetPasswordForEmail asks the backend to send a recovery link
func (c *Client) ResetPasswordForEmail(ctx context.Context, email string) error {
	return c.auth.RequestPasswordReset(ctx, email)
}

// OnAuthStateChange registers fn for session change events
func (c *Client) OnAuthStateChange(fn func(Event)) *Subscription {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return &Subscription{unsubscribe: func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}}
}

// Close stops the refresh timer and drops all subscribers
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	c.listeners = make(map[int]func(Event))
}

func (c *Client) setSession(session *models.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = session
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	if session == nil || c.closed || session.RefreshToken == "" || session.ExpiresAt.IsZero() {
		return
	}
	wait := time.Until(session.ExpiresAt) - c.refreshMargin
	if wait < 0 {
		wait = 0
	}
	refreshToken := session.RefreshToken
	c.refreshTimer = time.AfterFunc(wait, func() { c.autoRefresh(refreshToken) })
}

func (c *Client) autoRefresh(refreshToken string) {
	c.mu.Lock()
	stale := c.closed || c.session == nil || c.session.RefreshToken != refreshToken
	c.mu.Unlock()
	if stale {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	session, err := c.auth.Refresh(ctx, refreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("Session refresh failed, signing out")
		c.setSession(nil)
		c.emit(Event{Type: EventSignedOut})
		return
	}
	c.setSession(session)
	c.emit(Event{Type: EventTokenRefreshed, Session: session})
}

func (c *Client) emit(event Event) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	fns := make([]func(Event), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}
