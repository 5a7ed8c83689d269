// Package postgres stores email templates in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/djshoppre/emailq/internal/template"
)

const (
	findQuery = `SELECT name, subject_part, html_part, text_part FROM templates WHERE name = $1`
	listQuery = `SELECT name, subject_part, html_part, text_part FROM templates ORDER BY name`
	saveQuery = `INSERT INTO templates (name, subject_part, html_part, text_part)
VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO UPDATE SET
    subject_part = EXCLUDED.subject_part,
    html_part = EXCLUDED.html_part,
    text_part = EXCLUDED.text_part,
    updated_at = now()`
)

// DB is the subset of *pgxpool.Pool used by Store.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a template.Store backed by the templates table.
type Store struct {
	db DB
}

// New creates a Store using db.
func New(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a connection pool and verifies it with a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Find returns the template named name.
func (s *Store) Find(ctx context.Context, name string) (*template.Template, error) {
	var t template.Template
	err := s.db.QueryRow(ctx, findQuery, name).Scan(&t.TemplateName, &t.SubjectPart, &t.HtmlPart, &t.TextPart)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", template.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query template %s: %w", name, err)
	}
	return &t, nil
}

// Save inserts or replaces t.
func (s *Store) Save(ctx context.Context, t *template.Template) error {
	if _, err := s.db.Exec(ctx, saveQuery, t.TemplateName, t.SubjectPart, t.HtmlPart, t.TextPart); err != nil {
		return fmt.Errorf("failed to save template %s: %w", t.TemplateName, err)
	}
	return nil
}

// List returns all templates ordered by name.
func (s *Store) List(ctx context.Context) ([]*template.Template, error) {
	rows, err := s.db.Query(ctx, listQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []*template.Template
	for rows.Next() {
		var t template.Template
		if err := rows.Scan(&t.TemplateName, &t.SubjectPart, &t.HtmlPart, &t.TextPart); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return out, nil
}
