package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/reddyanunay/colab-coding/internal/autocomplete"
	"github.com/reddyanunay/colab-coding/internal/db"
	"github.com/reddyanunay/colab-coding/internal/ratelimit"
	"github.com/reddyanunay/colab-coding/internal/ws"
)

type Config struct {
	MaxCodeLength     int
	AutocompleteDelay time.Duration
}

type API struct {
	hub       *ws.Hub
	store     db.Store
	completer *autocomplete.Service
	limiter   *ratelimit.Keyed
	log       *slog.Logger
	config    Config
}

// New builds the REST handlers. limiter may be nil, which disables rate
// limiting.
func New(hub *ws.Hub, store db.Store, completer *autocomplete.Service, limiter *ratelimit.Keyed, log *slog.Logger, config Config) *API {
	return &API{
		hub:       hub,
		store:     store,
		completer: completer,
		limiter:   limiter,
		log:       log,
		config:    config,
	}
}

// Register mounts every REST route on r
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/", a.RootHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", a.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", a.StatsHandler).Methods(http.MethodGet)

	r.Handle("/rooms", a.limited(a.CreateRoomHandler)).Methods(http.MethodPost)
	r.HandleFunc("/rooms", a.ListRoomsHandler).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{id}", a.GetRoomHandler).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{id}", a.DeleteRoomHandler).Methods(http.MethodDelete)

	r.Handle("/autocomplete", a.limited(a.AutocompleteHandler)).Methods(http.MethodPost)
}

func (a *API) limited(h http.HandlerFunc) http.Handler {
	if a.limiter == nil {
		return h
	}
	return a.limiter.Middleware(h)
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("api.encode_failed", "err", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) RootHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"message":             "Collaborative Coding API",
		"autocompleteDelayMs": a.config.AutocompleteDelay.Milliseconds(),
	})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.RoomCount(),
		"active_clients": a.hub.ClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	total, err := a.store.RoomCount(r.Context())
	if err != nil {
		a.log.Warn("api.room_count_failed", "err", err)
	} else {
		stats["total_rooms"] = total
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	RoomID   string `json:"roomId"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

type RoomDetailResponse struct {
	RoomResponse
	ActiveUsers int `json:"activeUsers"`
}

type RoomSummary struct {
	RoomID      string    `json:"roomId"`
	Language    string    `json:"language"`
	ActiveUsers int       `json:"activeUsers"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type CreateRoomRequest struct {
	Language string `json:"language"`

	// nil falls back to the default starter buffer; "" is kept as is
	InitialCode *string `json:"initial_code"`
}

func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	code := db.DefaultCode
	if req.InitialCode != nil {
		code = *req.InitialCode
	}
	if a.config.MaxCodeLength > 0 && utf8.RuneCountInString(code) > a.config.MaxCodeLength {
		errorResponse(w, http.StatusBadRequest, "initial_code is too long")
		return
	}

	room, err := a.store.CreateRoom(r.Context(), db.Room{
		ID:       uuid.NewString(),
		Code:     code,
		Language: req.Language,
	})
	if err != nil {
		a.log.Error("api.create_room_failed", "err", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	a.log.Info("api.room_created", "room", room.ID, "language", room.Language)
	jsonResponse(w, http.StatusCreated, RoomResponse{
		RoomID:   room.ID,
		Code:     room.Code,
		Language: room.Language,
	})
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rooms, err := a.store.ListRooms(r.Context(), limit, offset)
	if err != nil {
		a.log.Error("api.list_rooms_failed", "err", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	activeRooms := a.hub.ActiveRooms()

	response := make([]RoomSummary, len(rooms))
	for i, room := range rooms {
		response[i] = RoomSummary{
			RoomID:      room.ID,
			Language:    room.Language,
			ActiveUsers: activeRooms[room.ID],
			CreatedAt:   room.CreatedAt,
			UpdatedAt:   room.UpdatedAt,
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	room, err := a.store.GetRoom(r.Context(), roomID)
	if err != nil {
		a.log.Error("api.get_room_failed", "room", roomID, "err", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}
	if room == nil {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	// The hub's buffer, live or retained after the last member left, may be
	// ahead of the last durable write
	code := room.Code
	if live, ok := a.hub.Snapshot(roomID); ok {
		code = live
	}

	jsonResponse(w, http.StatusOK, RoomDetailResponse{
		RoomResponse: RoomResponse{
			RoomID:   room.ID,
			Code:     code,
			Language: room.Language,
		},
		ActiveUsers: a.hub.MemberCount(roomID),
	})
}

func (a *API) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	room, err := a.store.GetRoom(r.Context(), roomID)
	if err != nil {
		a.log.Error("api.get_room_failed", "room", roomID, "err", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}
	if room == nil {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	if err := a.store.DeleteRoom(r.Context(), roomID); err != nil {
		a.log.Error("api.delete_room_failed", "room", roomID, "err", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to delete room")
		return
	}
	a.hub.Forget(roomID)

	a.log.Info("api.room_deleted", "room", roomID)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "Room deleted"})
}

func (a *API) AutocompleteHandler(w http.ResponseWriter, r *http.Request) {
	var req autocomplete.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if a.config.MaxCodeLength > 0 && utf8.RuneCountInString(req.Code) > a.config.MaxCodeLength {
		errorResponse(w, http.StatusBadRequest, "code is too long")
		return
	}

	jsonResponse(w, http.StatusOK, a.completer.Suggest(req))
}
