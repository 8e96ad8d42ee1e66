package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vikasavnish/stockwatch/internal/config"
	"github.com/vikasavnish/stockwatch/internal/finnhub"
	"github.com/vikasavnish/stockwatch/internal/identity"
	"github.com/vikasavnish/stockwatch/internal/models"
	"github.com/vikasavnish/stockwatch/internal/services"
	"github.com/vikasavnish/stockwatch/internal/websocket"
)

func setupRouter(t *testing.T, apiKey string) *mux.Router {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Profile{}, &models.Favorite{}))

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			if r.URL.Query().Get("symbol") == "AAPL" {
				w.Write([]byte(`{"c":190.12,"dp":1.5}`))
				return
			}
			http.Error(w, "unknown symbol", http.StatusNotFound)
		case "/search":
			w.Write([]byte(`{"count":1,"result":[{"symbol":"AAPL","description":"APPLE INC"}]}`))
		}
	}))
	t.Cleanup(provider.Close)

	cfg := &config.Config{Finnhub: config.FinnhubConfig{SearchLimit: 12}}
	backend := identity.NewBackend(db, identity.NewMemorySessionStore(), identity.Options{SecretKey: []byte("test-secret")})
	quotes := finnhub.NewClient(apiKey, provider.URL, time.Second)
	hub := websocket.NewHub(&websocket.Factory{
		Auth:     backend,
		Store:    services.NewFavoriteService(db),
		Profiles: services.NewProfileService(db),
		Market:   quotes,
	})
	t.Cleanup(hub.Close)
	return SetupRouter(db, backend, quotes, hub, cfg)
}

func do(t *testing.T, router http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func signUp(t *testing.T, router http.Handler, email string) string {
	t.Helper()
	rec := do(t, router, "POST", "/api/auth/signup", "", models.CredentialsRequest{Email: email, Password: "secret1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp models.SignUpResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Session)
	return resp.Session.AccessToken
}

type favoritesBody struct {
	Favorites []models.Favorite `json:"favorites"`
	Message   string            `json:"message"`
	Error     string            `json:"error"`
}

func decodeFavorites(t *testing.T, rec *httptest.ResponseRecorder) favoritesBody {
	t.Helper()
	var body favoritesBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	router := setupRouter(t, "test-key-0123456789")

	rec := do(t, router, "GET", "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessions":0`)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	router := setupRouter(t, "test-key-0123456789")

	for _, path := range []string{"/api/favorites", "/api/search?q=AAPL", "/api/quotes", "/api/auth/session"} {
		rec := do(t, router, "GET", path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := do(t, router, "GET", "/api/favorites", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFavoritesLifecycle(t *testing.T) {
	router := setupRouter(t, "test-key-0123456789")
	token := signUp(t, router, "amy@example.com")

	rec := do(t, router, "GET", "/api/favorites", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "{\"favorites\":[]}\n", rec.Body.String())

	rec = do(t, router, "POST", "/api/favorites", token, models.AddFavoriteRequest{Ticker: " AAPL "})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeFavorites(t, rec)
	require.Len(t, body.Favorites, 1)
	assert.Equal(t, "AAPL", body.Favorites[0].Ticker)

	rec = do(t, router, "POST", "/api/favorites", token, models.AddFavoriteRequest{Ticker: "AAPL"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "AAPL is already in favorites.", decodeFavorites(t, rec).Error)

	rec = do(t, router, "POST", "/api/favorites", token, models.AddFavoriteRequest{Ticker: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Favorites are private to their owner.
	other := signUp(t, router, "bo@example.com")
	rec = do(t, router, "GET", "/api/favorites", other, nil)
	assert.Empty(t, decodeFavorites(t, rec).Favorites)
	rec = do(t, router, "DELETE", fmt.Sprintf("/api/favorites/%d", body.Favorites[0].ID), other, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, "GET", "/api/favorites", token, nil)
	assert.Len(t, decodeFavorites(t, rec).Favorites, 1)

	rec = do(t, router, "DELETE", fmt.Sprintf("/api/favorites/%d", body.Favorites[0].ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeFavorites(t, rec).Favorites)
}

func TestMarketRoutes(t *testing.T) {
	router := setupRouter(t, "test-key-0123456789")
	token := signUp(t, router, "cy@example.com")

	rec := do(t, router, "GET", "/api/search?q=apple", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbol":"AAPL"`)

	rec = do(t, router, "GET", "/api/search?q=", token, nil)
	assert.Equal(t, "{\"results\":[]}\n", rec.Body.String())

	rec = do(t, router, "GET", "/api/quotes?symbols=AAPL,ZZZZINVALID", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var quotes struct {
		Quotes map[string]models.Quote `json:"quotes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quotes))
	assert.Equal(t, map[string]models.Quote{"AAPL": {CurrentPrice: 190.12, PercentChange: 1.5}}, quotes.Quotes)

	do(t, router, "POST", "/api/favorites", token, models.AddFavoriteRequest{Ticker: "AAPL"})
	rec = do(t, router, "GET", "/api/quotes", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"AAPL":{"c":190.12,"dp":1.5}`)
}

func TestMarketRoutesWithoutKey(t *testing.T) {
	router := setupRouter(t, "")
	token := signUp(t, router, "di@example.com")

	rec := do(t, router, "GET", "/api/search?q=apple", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing FINNHUB API key.")

	rec = do(t, router, "GET", "/api/quotes?symbols=AAPL", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthRoutes(t *testing.T) {
	router := setupRouter(t, "test-key-0123456789")
	signUp(t, router, "ed@example.com")

	rec := do(t, router, "POST", "/api/auth/login", "", models.CredentialsRequest{Email: "ed@example.com", Password: "wrong1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, "POST", "/api/auth/login", "", models.CredentialsRequest{Email: "ed@example.com", Password: "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var session models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	rec = do(t, router, "GET", "/api/auth/session", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ed@example.com")

	rec = do(t, router, "POST", "/api/auth/refresh", "", models.RefreshRequest{RefreshToken: session.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))

	rec = do(t, router, "POST", "/api/auth/logout", refreshed.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, router, "GET", "/api/favorites", refreshed.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, "GET", "/api/auth/confirm", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrintRoutes(t *testing.T) {
	router := setupRouter(t, "test-key-0123456789")

	var out strings.Builder
	require.NoError(t, PrintRoutes(&out, router))
	table := out.String()
	assert.Contains(t, table, "/api/favorites/{id:[0-9]+}")
	assert.Contains(t, table, "/api/auth/signup")
	assert.Contains(t, table, "/ws")
}
