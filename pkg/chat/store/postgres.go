package store

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres keeps the turn log and documents in two tables, migrated with
// goose on startup.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if err := migrate(dsn); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func migrate(dsn string) error {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	db := stdlib.OpenDB(*cfg)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func (s *Postgres) AppendTurn(ctx context.Context, userID string, turn TurnRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO turns (id, user_id, question, reply, emotion, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		turn.ID, userID, turn.Question, turn.Reply, turn.Emotion, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *Postgres) RecentTurns(ctx context.Context, userID string, n int) ([]TurnRecord, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, question, reply, emotion, created_at
		 FROM turns WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, n)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRecord
	for rows.Next() {
		var turn TurnRecord
		if err := rows.Scan(&turn.ID, &turn.Question, &turn.Reply, &turn.Emotion, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	return out, nil
}

func (s *Postgres) GetDocument(ctx context.Context, userID, kind string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE user_id = $1 AND kind = $2`,
		userID, kind).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return data, nil
}

func (s *Postgres) SetDocument(ctx context.Context, userID, kind string, data []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (user_id, kind, data, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id, kind)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		userID, kind, data)
	if err != nil {
		return fmt.Errorf("set document: %w", err)
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
