package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/vikasavnish/stockwatch/internal/identity"
	"github.com/vikasavnish/stockwatch/internal/models"
)

// AuthClient is the part of identity.Client the provider depends on
type AuthClient interface {
	GetSession(ctx context.Context) (*models.Session, error)
	OnAuthStateChange(fn func(identity.Event)) *identity.Subscription
}

// State is what consumers see: the signed-in identity, if any, and whether
// the initial session lookup is still running.
type State struct {
	Identity *identity.Identity
	Loading  bool
}

// Provider tracks the current identity of one client and pushes every
// change to its subscribers.
type Provider struct {
	client AuthClient

	mu        sync.Mutex
	current   *identity.Identity
	loading   bool
	resolved  bool
	listeners map[int]func(State)
	nextID    int
	sub       *identity.Subscription
	started   bool
	closed    bool
}

// NewProvider creates a provider over client. Call Start to begin tracking.
func NewProvider(client AuthClient) *Provider {
	return &Provider{
		client:    client,
		loading:   true,
		listeners: make(map[int]func(State)),
	}
}

// Start subscribes to session changes and resolves the existing session in
// the background. Calling it again has no effect.
func (p *Provider) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	sub := p.client.OnAuthStateChange(p.handleEvent)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	p.sub = sub
	p.mu.Unlock()

	go p.resolveInitial(ctx)
}

func (p *Provider) resolveInitial(ctx context.Context) {
	session, err := p.client.GetSession(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not restore session, continuing signed out")
		session = nil
	}

	p.mu.Lock()
	// An auth event that arrived first is newer than this lookup.
	if p.resolved || p.closed {
		p.mu.Unlock()
		return
	}
	p.resolved = true
	p.current = identityFrom(session)
	p.loading = false
	p.mu.Unlock()
	p.notify()
}

func (p *Provider) handleEvent(event identity.Event) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.resolved = true
	p.current = identityFrom(event.Session)
	p.loading = false
	p.mu.Unlock()
	p.notify()
}

// Current returns the signed-in identity
func (p *Provider) Current() (identity.Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return identity.Identity{}, false
	}
	return *p.current, true
}

// Loading reports whether the initial session lookup is still pending
func (p *Provider) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// State returns a snapshot of the identity and loading flag
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

// Subscribe registers fn for state changes. The returned func removes it.
func (p *Provider) Subscribe(fn func(State)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Close drops the auth subscription and all listeners
func (p *Provider) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	sub := p.sub
	p.sub = nil
	p.listeners = make(map[int]func(State))
	p.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

func (p *Provider) snapshot() State {
	state := State{Loading: p.loading}
	if p.current != nil {
		id := *p.current
		state.Identity = &id
	}
	return state
}

func (p *Provider) notify() {
	p.mu.Lock()
	state := p.snapshot()
	fns := make([]func(State), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

func identityFrom(session *models.Session) *identity.Identity {
	if session == nil {
		return nil
	}
	return &identity.Identity{
		UserID:    session.User.ID,
		Email:     session.User.Email,
		SessionID: session.ID,
	}
}
