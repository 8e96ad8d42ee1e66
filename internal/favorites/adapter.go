package favorites

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/vikasavnish/stockwatch/internal/identity"
	"github.com/vikasavnish/stockwatch/internal/models"
)

// Store is the owner-scoped favorites table
type Store interface {
	// Select returns the owner's favorites, newest first.
	Select(ctx context.Context, userID string) ([]models.Favorite, error)
	Insert(ctx context.Context, userID, ticker string) error
	// Delete removes a row by id. Rows of other owners are never touched.
	Delete(ctx context.Context, userID string, id uint) error
}

// ErrEmptyTicker is returned by Add for blank input. No store call is made.
var ErrEmptyTicker = errors.New("Ticker is required")

// DuplicateError is returned by Add when the ticker is already in the
// loaded list. No store call is made in that case.
type DuplicateError struct {
	Ticker string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s is already in favorites.", e.Ticker)
}

// Adapter keeps a read-through copy of one identity's favorites. Every
// successful mutation is followed by a full reload; the reloaded list is
// the only source of truth.
type Adapter struct {
	store Store

	mu        sync.Mutex
	owner     string
	entries   []models.Favorite
	listeners map[int]func([]models.Favorite)
	nextID    int
}

func NewAdapter(store Store) *Adapter {
	return &Adapter{
		store:     store,
		listeners: make(map[int]func([]models.Favorite)),
	}
}

// Load fetches the favorites of id. A nil id means nobody is signed in and
// yields an empty list without touching the store. On a store error the
// previously loaded list is returned together with the error.
func (a *Adapter) Load(ctx context.Context, id *identity.Identity) ([]models.Favorite, error) {
	if id == nil {
		a.reset()
		return nil, nil
	}

	entries, err := a.store.Select(ctx, id.UserID)
	if err != nil {
		return a.cached(id.UserID), err
	}

	a.mu.Lock()
	a.owner = id.UserID
	a.entries = entries
	fns := a.snapshotListeners()
	a.mu.Unlock()

	for _, fn := range fns {
		fn(slices.Clone(entries))
	}
	return slices.Clone(entries), nil
}

// Add inserts ticker for id and reloads. The ticker is trimmed first; a
// ticker already present in the loaded list is rejected with *DuplicateError.
func (a *Adapter) Add(ctx context.Context, id *identity.Identity, ticker string) error {
	if id == nil {
		return nil
	}
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return ErrEmptyTicker
	}
	if a.contains(id.UserID, ticker) {
		return &DuplicateError{Ticker: ticker}
	}
	if err := a.store.Insert(ctx, id.UserID, ticker); err != nil {
		return err
	}
	_, err := a.Load(ctx, id)
	return err
}

// Remove deletes the row and reloads whether or not the delete succeeded.
// The delete error takes precedence over a reload error.
func (a *Adapter) Remove(ctx context.Context, id *identity.Identity, entryID uint) error {
	if id == nil {
		return nil
	}
	deleteErr := a.store.Delete(ctx, id.UserID, entryID)
	_, loadErr := a.Load(ctx, id)
	if deleteErr != nil {
		return deleteErr
	}
	return loadErr
}

// Entries returns the last loaded list
func (a *Adapter) Entries() []models.Favorite {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.entries)
}

// Tickers returns the symbols of the last loaded list, in list order
func (a *Adapter) Tickers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	tickers := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		tickers = append(tickers, e.Ticker)
	}
	return tickers
}

// OnChange registers fn to receive the list after every successful load.
// The returned func removes it.
func (a *Adapter) OnChange(fn func([]models.Favorite)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *Adapter) contains(owner, ticker string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.owner != owner {
		return false
	}
	return slices.ContainsFunc(a.entries, func(f models.Favorite) bool {
		return f.Ticker == ticker
	})
}

func (a *Adapter) cached(owner string) []models.Favorite {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.owner != owner {
		return nil
	}
	return slices.Clone(a.entries)
}

func (a *Adapter) reset() {
	a.mu.Lock()
	changed := a.owner != "" || len(a.entries) > 0
	a.owner = ""
	a.entries = nil
	fns := a.snapshotListeners()
	a.mu.Unlock()

	if changed {
		for _, fn := range fns {
			fn(nil)
		}
	}
}

func (a *Adapter) snapshotListeners() []func([]models.Favorite) {
	ids := make([]int, 0, len(a.listeners))
	for id := range a.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func([]models.Favorite), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, a.listeners[id])
	}
	return fns
}
