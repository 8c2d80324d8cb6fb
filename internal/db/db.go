package db

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

const (
	DefaultCode     = "# Start coding here...\n"
	DefaultLanguage = "python"
)

var ErrNotFound = errors.New("room not found")

// The persisted row of a room
type Room struct {
	ID        string
	Code      string
	Language  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists room rows. Lookups return nil, nil for a missing room.
type Store interface {
	CreateRoom(ctx context.Context, room Room) (*Room, error)
	GetRoom(ctx context.Context, id string) (*Room, error)
	ListRooms(ctx context.Context, limit, offset int) ([]Room, error)
	UpdateRoomCode(ctx context.Context, id, code string) error
	DeleteRoom(ctx context.Context, id string) error
	RoomCount(ctx context.Context) (int, error)
	Close() error
}

// Open picks a backend from the URL: postgres:// and postgresql:// go to
// PostgreSQL, sqlite:// and plain paths to SQLite.
func Open(ctx context.Context, url string, log *slog.Logger) (Store, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return NewPostgres(ctx, url, log)
	default:
		return NewSQLite(strings.TrimPrefix(url, "sqlite://"), log)
	}
}

func withDefaults(r Room) Room {
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
	return r
}
