package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/vikasavnish/stockwatch/internal/favorites"
	"github.com/vikasavnish/stockwatch/internal/models"
	"github.com/vikasavnish/stockwatch/internal/utils"
)

// Notifier tells a user's open watch sessions that their list changed
type Notifier interface {
	NotifyUser(userID string)
}

type FavoritesHandler struct {
	store    favorites.Store
	notifier Notifier
}

func NewFavoritesHandler(store favorites.Store, notifier Notifier) *FavoritesHandler {
	return &FavoritesHandler{
		store:    store,
		notifier: notifier,
	}
}

func (h *FavoritesHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/favorites", h.GetFavorites).Methods("GET")
	router.HandleFunc("/favorites", h.AddFavorite).Methods("POST")
	router.HandleFunc("/favorites/{id:[0-9]+}", h.RemoveFavorite).Methods("DELETE")
}

type favoritesResponse struct {
	Favorites []models.Favorite `json:"favorites"`
	Message   string            `json:"message,omitempty"`
}

func listOrEmpty(entries []models.Favorite) []models.Favorite {
	if entries == nil {
		return []models.Favorite{}
	}
	return entries
}

// GetFavorites returns the caller's favorites, newest first
func (h *FavoritesHandler) GetFavorites(w http.ResponseWriter, r *http.Request) {
	id, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	adapter := favorites.NewAdapter(h.store)
	entries, err := adapter.Load(r.Context(), &id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, favoritesResponse{Favorites: listOrEmpty(entries)})
}

// AddFavorite adds a ticker to the caller's favorites
func (h *FavoritesHandler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	id, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.AddFavoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	ticker := strings.TrimSpace(req.Ticker)
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "Ticker is required")
		return
	}

	// The duplicate check runs against the freshly loaded list.
	adapter := favorites.NewAdapter(h.store)
	if _, err := adapter.Load(r.Context(), &id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := adapter.Add(r.Context(), &id, ticker); err != nil {
		var dup *favorites.DuplicateError
		if errors.As(err, &dup) {
			writeError(w, http.StatusConflict, dup.Error())
			return
		}
		if errors.Is(err, favorites.ErrEmptyTicker) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.notify(id.UserID)
	writeJSON(w, http.StatusCreated, favoritesResponse{Favorites: listOrEmpty(adapter.Entries())})
}

// RemoveFavorite deletes one of the caller's favorites by row id. The list
// in the response is reloaded even when the delete fails.
func (h *FavoritesHandler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	id, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	entryID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ID")
		return
	}

	adapter := favorites.NewAdapter(h.store)
	err = adapter.Remove(r.Context(), &id, uint(entryID))
	h.notify(id.UserID)

	resp := favoritesResponse{Favorites: listOrEmpty(adapter.Entries())}
	if err != nil {
		resp.Message = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *FavoritesHandler) notify(userID string) {
	if h.notifier != nil {
		h.notifier.NotifyUser(userID)
	}
}
