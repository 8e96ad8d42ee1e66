package watch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vikasavnish/stockwatch/internal/favorites"
	"github.com/vikasavnish/stockwatch/internal/identity"
	"github.com/vikasavnish/stockwatch/internal/market"
	"github.com/vikasavnish/stockwatch/internal/models"
	"github.com/vikasavnish/stockwatch/internal/session"
)

// Command types accepted by Controller.Do
const (
	CmdSetQuery      = "set_query"
	CmdSelect        = "select"
	CmdRemove        = "remove"
	CmdRefresh       = "refresh"
	CmdSetMode       = "set_mode"
	CmdSignIn        = "sign_in"
	CmdSignUp        = "sign_up"
	CmdSignOut       = "sign_out"
	CmdResetPassword = "reset_password"
)

// Login form modes
const (
	ModeLogin  = "login"
	ModeSignup = "signup"
)

const (
	EmptyFavorites  = "No favorites yet — search a stock and tap it to add."
	msgConfirmEmail = "Check your email to confirm your account, then log in."
	msgEmailFirst   = "Enter your email first."
	msgResetSent    = "Check your email for the reset link."
)

// Market is the market data provider as the watch screen uses it
type Market interface {
	market.QuoteSource
	market.SearchSource
}

// ProfileWriter stores the public profile written after signup
type ProfileWriter interface {
	Upsert(ctx context.Context, userID, email string) error
}

// Options tune a controller. Zero values select defaults.
type Options struct {
	SearchDelay    time.Duration
	SearchLimit    int
	RequestTimeout time.Duration
}

// FavoriteRow is one line of the favorites list as displayed
type FavoriteRow struct {
	ID     uint                  `json:"id"`
	Ticker string                `json:"ticker"`
	Price  string                `json:"price"`
	Change string                `json:"change"`
	Quote  *market.QuoteSnapshot `json:"quote,omitempty"`
}

// State is everything a client needs to draw the screen
type State struct {
	AuthLoading bool   `json:"authLoading"`
	SignedIn    bool   `json:"signedIn"`
	Email       string `json:"email,omitempty"`
	AuthMode    string `json:"authMode"`
	AuthBusy    bool   `json:"authBusy"`
	AuthMessage string `json:"authMessage,omitempty"`

	Query         string                `json:"query"`
	SearchLoading bool                  `json:"searchLoading"`
	Results       []models.SearchResult `json:"results"`
	Message       string                `json:"message,omitempty"`

	Favorites        []FavoriteRow `json:"favorites"`
	FavoritesLoading bool          `json:"favoritesLoading"`
	EmptyText        string        `json:"emptyText,omitempty"`
}

// Controller runs one client's watch screen. All screen state is owned by
// a single loop goroutine; network calls run on worker goroutines and post
// their results back to the loop, where stale results are dropped.
type Controller struct {
	auth     *identity.Client
	provider *session.Provider
	favs     *favorites.Adapter
	fanout   *market.Fanout
	board    *market.QuoteBoard
	searcher *market.Searcher
	profiles ProfileWriter
	market   Market
	sink     func(State)
	timeout  time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	inbox     chan func()
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	// Owned by the loop goroutine.
	user        *identity.Identity
	authLoading bool
	authMode    string
	authBusy    bool
	authMessage string
	search      market.SearchState
	message     string
	entries     []models.Favorite
	favLoading  bool
	favGen      uint64
	quoteGen    uint64
}

// NewController wires a controller for one client. sink receives a new
// State after every change and is called from the loop goroutine.
func NewController(auth *identity.Client, store favorites.Store, profiles ProfileWriter, mkt Market, opts Options, sink func(State)) *Controller {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		auth:        auth,
		provider:    session.NewProvider(auth),
		favs:        favorites.NewAdapter(store),
		fanout:      market.NewFanout(mkt),
		board:       market.NewQuoteBoard(),
		profiles:    profiles,
		market:      mkt,
		sink:        sink,
		timeout:     opts.RequestTimeout,
		ctx:         ctx,
		cancel:      cancel,
		inbox:       make(chan func(), 64),
		done:        make(chan struct{}),
		authLoading: true,
		authMode:    ModeLogin,
	}
	c.searcher = market.NewSearcher(mkt, opts.SearchDelay, opts.SearchLimit, func(st market.SearchState) {
		// Never block the caller; it may be the loop itself.
		go c.post(func() { c.applySearch(st) })
	})
	return c
}

// Start begins processing and resolves the client's session
func (c *Controller) Start() {
	c.startOnce.Do(func() {
		go c.loop()
		c.provider.Subscribe(func(st session.State) {
			c.post(func() { c.applySession(st) })
		})
		c.provider.Start(c.ctx)
		c.post(c.emit)
	})
}

// Do queues a client command
func (c *Controller) Do(cmd models.Command) {
	c.post(func() { c.handle(cmd) })
}

// ReloadFor reloads the favorites list if userID is signed in here
func (c *Controller) ReloadFor(userID string) {
	c.post(func() {
		if c.user != nil && c.user.UserID == userID {
			c.loadFavorites()
		}
	})
}

// Snapshot returns the current state, or the zero State after Close
func (c *Controller) Snapshot() State {
	reply := make(chan State, 1)
	c.post(func() { reply <- c.snapshot() })
	select {
	case st := <-reply:
		return st
	case <-c.done:
		return State{}
	}
}

// Close stops the loop. Results of calls still in flight are discarded.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
		c.searcher.Close()
		c.provider.Close()
	})
}

func (c *Controller) loop() {
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.done:
			return
		}
	}
}

func (c *Controller) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.done:
	}
}

// spawn runs work off the loop and applies the closure it returns on the loop
func (c *Controller) spawn(work func(ctx context.Context) func()) {
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		defer cancel()
		if apply := work(ctx); apply != nil {
			c.post(apply)
		}
	}()
}

func (c *Controller) handle(cmd models.Command) {
	switch cmd.Type {
	case CmdSetQuery:
		c.searcher.Set(cmd.Query)
		c.applySearch(c.searcher.State())
	case CmdSelect:
		c.addFavorite(cmd.Symbol)
	case CmdRemove:
		c.removeFavorite(cmd.ID)
	case CmdRefresh:
		if c.user != nil {
			c.loadFavorites()
		}
	case CmdSetMode:
		if cmd.Mode == ModeLogin || cmd.Mode == ModeSignup {
			c.authMode = cmd.Mode
			c.authMessage = ""
			c.emit()
		}
	case CmdSignIn:
		c.signIn(cmd.Email, cmd.Password)
	case CmdSignUp:
		c.signUp(cmd.Email, cmd.Password)
	case CmdSignOut:
		c.signOut()
	case CmdResetPassword:
		c.resetPassword(cmd.Email)
	default:
		log.Warn().Str("type", cmd.Type).Msg("Unknown watch command")
	}
}

func (c *Controller) applySession(st session.State) {
	c.authLoading = st.Loading
	prev := c.user
	c.user = st.Identity

	if !sameUser(prev, c.user) {
		c.favGen++
		c.quoteGen++
		c.entries = nil
		c.message = ""
		c.board.Replace(nil)
		if c.user == nil {
			c.favLoading = false
			c.favs.Load(c.ctx, nil)
		} else {
			c.loadFavorites()
		}
	}
	c.emit()
}

func (c *Controller) applySearch(st market.SearchState) {
	if st.Seq <= c.search.Seq {
		return
	}
	c.search = st
	c.message = st.Message
	c.emit()
}

func (c *Controller) loadFavorites() {
	id := *c.user
	c.favGen++
	gen := c.favGen
	c.favLoading = true
	c.message = ""
	c.emit()

	c.spawn(func(ctx context.Context) func() {
		entries, err := c.favs.Load(ctx, &id)
		return func() {
			if gen != c.favGen {
				return
			}
			c.favLoading = false
			if err != nil {
				c.message = err.Error()
			}
			c.entries = entries
			c.refreshQuotes()
			c.emit()
		}
	})
}

func (c *Controller) addFavorite(ticker string) {
	ticker = strings.TrimSpace(ticker)
	if c.user == nil || ticker == "" {
		return
	}
	id := *c.user
	c.message = ""
	c.emit()

	c.spawn(func(ctx context.Context) func() {
		err := c.favs.Add(ctx, &id, ticker)
		entries := c.favs.Entries()
		return func() {
			if !c.isUser(id) {
				return
			}
			if err != nil {
				c.message = err.Error()
				c.emit()
				return
			}
			c.searcher.Clear()
			c.applySearch(c.searcher.State())
			c.applyEntries(entries)
		}
	})
}

func (c *Controller) removeFavorite(entryID uint) {
	if c.user == nil {
		return
	}
	id := *c.user
	c.message = ""
	c.emit()

	c.spawn(func(ctx context.Context) func() {
		err := c.favs.Remove(ctx, &id, entryID)
		entries := c.favs.Entries()
		return func() {
			if !c.isUser(id) {
				return
			}
			if err != nil {
				c.message = err.Error()
			}
			c.applyEntries(entries)
		}
	})
}

func (c *Controller) applyEntries(entries []models.Favorite) {
	// Drop loads started before this mutation settled.
	c.favGen++
	c.favLoading = false
	c.entries = entries
	c.refreshQuotes()
	c.emit()
}

func (c *Controller) refreshQuotes() {
	tickers := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		tickers = append(tickers, e.Ticker)
	}
	if len(tickers) == 0 || !c.market.Enabled() {
		return
	}
	c.quoteGen++
	gen := c.quoteGen

	c.spawn(func(ctx context.Context) func() {
		quotes, err := c.fanout.RefreshQuotes(ctx, tickers)
		if err != nil {
			return nil
		}
		return func() {
			if gen != c.quoteGen {
				return
			}
			c.board.Replace(quotes)
			c.emit()
		}
	})
}

func (c *Controller) signIn(email, password string) {
	c.authMessage = ""
	c.authBusy = true
	c.emit()

	c.spawn(func(ctx context.Context) func() {
		_, err := c.auth.SignInWithPassword(ctx, strings.TrimSpace(email), password)
		return func() {
			c.authBusy = false
			if err != nil {
				c.authMessage = err.Error()
			}
			c.emit()
		}
	})
}

func (c *Controller) signUp(email, password string) {
	c.authMessage = ""
	c.authBusy = true
	c.emit()

	c.spawn(func(ctx context.Context) func() {
		_, sess, err := c.auth.SignUp(ctx, strings.TrimSpace(email), password)
		if err == nil && sess != nil && c.profiles != nil {
			if perr := c.profiles.Upsert(ctx, sess.User.ID, sess.User.Email); perr != nil {
				log.Warn().Err(perr).Str("user_id", sess.User.ID).Msg("Profile upsert failed")
			}
		}
		return func() {
			c.authBusy = false
			switch {
			case err != nil:
				c.authMessage = err.Error()
			case sess == nil:
				c.authMessage = msgConfirmEmail
				c.authMode = ModeLogin
			}
			c.emit()
		}
	})
}

func (c *Controller) signOut() {
	c.authMessage = ""
	c.emit()

	c.spawn(func(ctx context.Context) func() {
		err := c.auth.SignOut(ctx)
		if err == nil {
			return nil
		}
		return func() {
			c.authMessage = err.Error()
			c.emit()
		}
	})
}

func (c *Controller) resetPassword(email string) {
	c.authMessage = ""
	email = strings.TrimSpace(email)
	if email == "" {
		c.authMessage = msgEmailFirst
		c.emit()
		return
	}
	c.emit()

	c.spawn(func(ctx context.Context) func() {
		err := c.auth.ResetPasswordForEmail(ctx, email)
		return func() {
			if err != nil {
				c.authMessage = err.Error()
			} else {
				c.authMessage = msgResetSent
			}
			c.emit()
		}
	})
}

func (c *Controller) isUser(id identity.Identity) bool {
	return c.user != nil && c.user.UserID == id.UserID
}

func sameUser(a, b *identity.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.UserID == b.UserID
}

func (c *Controller) emit() {
	if c.sink != nil {
		c.sink(c.snapshot())
	}
}

func (c *Controller) snapshot() State {
	st := State{
		AuthLoading:      c.authLoading,
		SignedIn:         c.user != nil,
		AuthMode:         c.authMode,
		AuthBusy:         c.authBusy,
		AuthMessage:      c.authMessage,
		Query:            c.search.Query,
		SearchLoading:    c.search.Loading(),
		Results:          c.search.Results,
		Message:          c.message,
		FavoritesLoading: c.favLoading,
		Favorites:        make([]FavoriteRow, 0, len(c.entries)),
	}
	if c.user != nil {
		st.Email = c.user.Email
	}
	if st.Results == nil {
		st.Results = []models.SearchResult{}
	}
	for _, e := range c.entries {
		row := FavoriteRow{ID: e.ID, Ticker: e.Ticker}
		if q, ok := c.board.Get(e.Ticker); ok {
			row.Quote = &q
		}
		row.Price = FormatPrice(row.Quote)
		row.Change = FormatChange(row.Quote)
		st.Favorites = append(st.Favorites, row)
	}
	if st.SignedIn && !st.FavoritesLoading && len(st.Favorites) == 0 {
		st.EmptyText = EmptyFavorites
	}
	return st
}
