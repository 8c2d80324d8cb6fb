package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/reddyanunay/colab-coding/internal/autocomplete"
	"github.com/reddyanunay/colab-coding/internal/db"
	"github.com/reddyanunay/colab-coding/internal/persist"
	"github.com/reddyanunay/colab-coding/internal/ratelimit"
	"github.com/reddyanunay/colab-coding/internal/ws"
)

type testEnv struct {
	api    *API
	hub    *ws.Hub
	store  *db.SQLite
	router *mux.Router
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestAPI(t *testing.T, limiter *ratelimit.Keyed) (*testEnv, func()) {
	t.Helper()

	log := discardLogger()
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "test.db"), log)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	writer := persist.New(store, log, persist.DefaultConfig())
	writer.Start()

	hub := ws.NewHub(log, store, writer, ws.DefaultConfig())
	api := New(hub, store, autocomplete.New(), limiter, log, Config{
		MaxCodeLength:     50,
		AutocompleteDelay: 600 * time.Millisecond,
	})

	router := mux.NewRouter()
	api.Register(router)

	cleanup := func() {
		hub.CloseAll()
		writer.Stop()
		store.Close()
	}

	return &testEnv{api: api, hub: hub, store: store, router: router}, cleanup
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func (e *testEnv) createRoom(t *testing.T, body string) RoomResponse {
	t.Helper()
	w := e.do(t, "POST", "/rooms", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var room RoomResponse
	decode(t, w, &room)
	return room
}

// Stands in for a WebSocket session
type stubConn struct{}

func (stubConn) Send(ctx context.Context, data []byte) error { return nil }
func (stubConn) Close() error                                { return nil }

func TestRootHandler(t *testing.T) {
	env, cleanup := setupTestAPI(t, nil)
	defer cleanup()

	w := env.do(t, "GET", "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	decode(t, w, &response)
	if response["message"] != "Collaborative Coding API" {
		t.Errorf("Unexpected message %v", response["message"])
	}
	if response["autocompleteDelayMs"] != float64(600) {
		t.Errorf("Expected autocompleteDelayMs 600, got %v", response["autocompleteDelayMs"])
	}
}

func TestHealthHandler(t *testing.T) {
	env, cleanup := setupTestAPI(t, nil)
	defer cleanup()

	w := env.do(t, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	decode(t, w, &response)
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", response["status"])
	}
}

func TestStatsHandler(t *testing.T) {
	env, cleanup := setupTestAPI(t, nil)
	defer cleanup()

	env.createRoom(t, "")

	w := env.do(t, "GET", "/api/stats", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	decode(t, w, &response)
	for _, key := range []string{"active_rooms", "active_clients", "timestamp"} {
		if _, ok := response[key]; !ok {
			t.Errorf("Response should contain '%s'", key)
		}
	}
	if response["total_rooms"] != float64(1) {
		t.Errorf("Expected total_rooms 1, got %v", response["total_rooms"])
	}
}

func TestCreateRoom(t *testing.T) {
	env, cleanup := setupTestAPI(t, nil)
	defer cleanup()

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedCode   string
		expectedLang   string
	}{
		{
			name:           "Empty body uses defaults",
			body:           "",
			expectedStatus: http.StatusCreated,
			expectedCode:   db.DefaultCode,
			expectedLang:   "python",
		},
		{
			name:           "Language and initial code",
			body:           `{"language": "javascript", "initial_code": "let x = 1"}`,
			expectedStatus: http.StatusCreated,
			expectedCode:   "let x = 1",
			expectedLang:   "javascript",
		},
		{
			name:           "Explicit empty code is kept",
			body:           `{"initial_code": ""}`,
			expectedStatus: http.StatusCreated,
			expectedCode:   "",
			expectedLang:   "python",
		},
		{
			name:           "Invalid JSON should fail",
			body:           `{"language":`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Oversize code should fail",
			body:           `{"initial_code": "` + strings.Repeat("x", 51) + `"}`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/rooms", tt.body)
			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.expectedStatus != http.StatusCreated {
				return
			}

			var room RoomResponse
			decode(t, w, &room)
			if room.RoomID == "" {
				t.Error("Expected a room ID")
			}
			if room.Code != tt.expectedCode {
				t.Errorf("Expected code %q, got %q", tt.expectedCode, room.Code)
			}
			if room.Language != tt.expectedLang {
				t.Errorf("Expected language %q, got %q", tt.expectedLang, room.Language)
			}
		})
	}
}

func TestGetRoom(t *testing.T) {
	env, cleanup := setupTestAPI(t, nil)
	defer cleanup()

	created := env.createRoom(t, `{"initial_code": "x = 1"}`)

	w := env.do(t, "GET", "/rooms/"+created.RoomID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var room RoomDetailResponse
	decode(t, w, &room)
	if room.RoomID != created.RoomID || room.Code != "x = 1" || room.ActiveUsers != 0 {
		t.Errorf("Unexpected room %+v", room)
	}
}

func TestGetRoomNotFound(t *testing.T) {
	env, cleanup := setupTestAPI(t, nil)
	defer cleanup()

	w := env.do(t, "GET", "/rooms/non-existent-room", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	var response map[string]string
	decode(t, w, &response)
	if response["error"] != "Room not found" {
		t.Errorf("Unexpected error %q", response["error"])
	}
}

func TestGetRoomReturnsLiveBuffer(t *testing.T) {
	env, cleanup := setupTestAPI(t, nil)
	defer cleanup()

	created := env.createRoom(t, `{"initial_code": "old"}`)
	ctx := context.Background()
	conn := stubConn{}
	env.hub.Join(ctx, created.RoomID, conn, created.Code)
	if err := env.hub.Handle(ctx, created.RoomID, conn, []byte(`{"type":"code_update","code":"live"}`)); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	w := env.do(t, "GET", "/rooms/"+created.RoomID, "")
	var room RoomDetailResponse
	decode(t, w, &room)
	if room.Code != "live" {
		t.Errorf("Expected live buffer, got %q", room.Code)
	}
	if room.ActiveUsers != 1 {
		t.Errorf("Expected 1 active user, got %d", room.ActiveUsers)
	}
}

func TestGetRoomAfterEveryoneLeft(t *testing.T) {
	env, cleanup := setupTestAPI(t, nil)
	defer cleanup()

	created := env.createRoom(t, `{"initial_code": "old"}`)
	ctx := context.Background()
	conn := stubConn{}
	env.hub.Join(ctx, created.RoomID, conn, created.Code)
	env.hub.Handle(ctx, created.RoomID, conn, []byte(`{"type":"code_update","code":"newest"}`))
	env.hub.Leave(ctx, created.RoomID, conn)

	w := env.do(t, "GET", "/rooms/"+created.RoomID, "")
	var room RoomDetailResponse
	decode(t, w, &room)
	if room.Code != "newest" {
		t.Errorf("Expected the last accepted buffer, got %q", room.Code)
	}
	if room.ActiveUsers != 0 {
		t.Errorf("Expected 0 active users, got %d", room.ActiveUsers)
	}

	// Deleting the row also drops the retained buffer
	env.do(t, "DELETE", "/rooms/"+created.RoomID, "")
	if _, ok := env.hub.Snapshot(created.RoomID); ok {
		t.Error("Deleted room should not keep a buffer")
	}
}

func TestListRooms(t *testing.T) {
	env, cleanup := setupTestAPI(t, nil)
	defer cleanup()

	for i := 0; i < 3; i++ {
		env.createRoom(t, "")
	}

	tests := []struct {
		query         string
		expectedLen   int
		expectedLimit float64
	}{
		{"", 3, 20},
		{"?limit=2", 2, 2},
		{"?limit=500", 3, 20},
		{"?limit=2&offset=2", 1, 2},
	}

	for _, tt := range tests {
		w := env.do(t, "GET", "/rooms"+tt.query, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", tt.query, w.Code)
		}

		var response struct {
			Rooms []RoomSummary `json:"rooms"`
			Limit float64       `json:"limit"`
		}
		decode(t, w, &response)
		if len(response.Rooms) != tt.expectedLen {
			t.Errorf("%s: expected %d rooms, got %d", tt.query, tt.expectedLen, len(response.Rooms))
		}
		if response.Limit != tt.expectedLimit {
			t.Errorf("%s: expected limit %v, got %v", tt.query, tt.expectedLimit, response.Limit)
		}
	}
}

func TestDeleteRoom(t *testing.T) {
	env, cleanup := setupTestAPI(t, nil)
	defer cleanup()

	created := env.createRoom(t, "")

	w := env.do(t, "DELETE", "/rooms/"+created.RoomID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	if w := env.do(t, "GET", "/rooms/"+created.RoomID, ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 after delete, got %d", w.Code)
	}
	if w := env.do(t, "DELETE", "/rooms/"+created.RoomID, ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 on second delete, got %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env, cleanup := setupTestAPI(t, nil)
	defer cleanup()

	w := env.do(t, "PUT", "/rooms/abc", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestAutocompleteHandler(t *testing.T) {
	env, cleanup := setupTestAPI(t, nil)
	defer cleanup()

	body, _ := json.Marshal(autocomplete.Request{Code: "def foo(", CursorPosition: 8, Language: "python"})
	req := httptest.NewRequest("POST", "/autocomplete", bytes.NewReader(body))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var response autocomplete.Response
	decode(t, w, &response)
	if response.Suggestion != "self):" || response.Confidence != 0.9 {
		t.Errorf("Unexpected suggestion %+v", response)
	}

	if w := env.do(t, "POST", "/autocomplete", "nope"); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid body, got %d", w.Code)
	}
}

func TestCreateRoomRateLimited(t *testing.T) {
	limiter := ratelimit.NewKeyed(0.001, 1, time.Minute)
	defer limiter.Stop()

	env, cleanup := setupTestAPI(t, limiter)
	defer cleanup()

	if w := env.do(t, "POST", "/rooms", ""); w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	if w := env.do(t, "POST", "/rooms", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", w.Code)
	}

	// Reads are not limited
	if w := env.do(t, "GET", "/rooms", ""); w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}
