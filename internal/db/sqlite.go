package db

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

func NewSQLite(path string, log *slog.Logger) (*SQLite, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	// The persistence writer and the REST handlers write concurrently
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("db.opened", "driver", "sqlite", "path", path)
	return &SQLite{db: db, log: log}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT 'python',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_rooms_updated_at ON rooms(updated_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) CreateRoom(ctx context.Context, room Room) (*Room, error) {
	room = withDefaults(room)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms (id, code, language) VALUES (?, ?, ?)",
		room.ID, room.Code, room.Language,
	)
	if err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, room.ID)
}

func (s *SQLite) GetRoom(ctx context.Context, id string) (*Room, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, code, language, created_at, updated_at FROM rooms WHERE id = ?",
		id,
	)

	var room Room
	err := row.Scan(&room.ID, &room.Code, &room.Language, &room.CreatedAt, &room.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *SQLite) ListRooms(ctx context.Context, limit, offset int) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, code, language, created_at, updated_at FROM rooms ORDER BY updated_at DESC, id LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Code, &room.Language, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *SQLite) UpdateRoomCode(ctx context.Context, id, code string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE rooms SET code = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		code, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) DeleteRoom(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", id)
	return err
}

func (s *SQLite) RoomCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&count)
	return count, err
}
