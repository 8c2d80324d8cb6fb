package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgres connects, verifies the connection and applies migrations
func NewPostgres(ctx context.Context, url string, log *slog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	p := &Postgres{pool: pool, log: log}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("db.opened", "driver", "postgres")
	return p, nil
}

// migrate executes all embedded .sql files in order
func (p *Postgres) migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := migrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return err
		}
		if _, err := p.pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		p.log.Debug("migration.applied", "file", e.Name())
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) CreateRoom(ctx context.Context, room Room) (*Room, error) {
	room = withDefaults(room)
	row := p.pool.QueryRow(ctx, `
		INSERT INTO rooms (id, code, language)
		VALUES ($1, $2, $3)
		RETURNING id, code, language, created_at, updated_at
	`, room.ID, room.Code, room.Language)

	var r Room
	if err := row.Scan(&r.ID, &r.Code, &r.Language, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *Postgres) GetRoom(ctx context.Context, id string) (*Room, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, code, language, created_at, updated_at
		FROM rooms
		WHERE id = $1
	`, id)

	var r Room
	err := row.Scan(&r.ID, &r.Code, &r.Language, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *Postgres) ListRooms(ctx context.Context, limit, offset int) ([]Room, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, code, language, created_at, updated_at
		FROM rooms
		ORDER BY updated_at DESC, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Code, &r.Language, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateRoomCode(ctx context.Context, id, code string) error {
	ct, err := p.pool.Exec(ctx, `
		UPDATE rooms
		SET code = $2, updated_at = NOW()
		WHERE id = $1
	`, id, code)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteRoom(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	return err
}

func (p *Postgres) RoomCount(ctx context.Context) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&count)
	return count, err
}
