package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/thirdchat/thirdchat-go/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store persists local client state: the session (credential, user profile,
// selected server) and a snapshot of the last fetched room list so the UI
// can render before a refetch lands. Nothing here is server-authoritative.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the client database at file and runs
// pending migrations. Pass ":memory:" for an ephemeral store.
func Open(file string) (*Store, error) {
	var dsn strings.Builder
	dsn.WriteString("file:")
	dsn.WriteString(file)
	if file != ":memory:" {
		dsn.WriteString("?_journal_mode=WAL")
	}
	db, err := sql.Open("sqlite3", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate up: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Session is the locally persisted login state.
type Session struct {
	AccessToken string        `json:"accessToken"`
	User        models.User   `json:"user"`
	Server      models.Server `json:"server"`
}

// SaveSession stores the session, replacing any previous one. The client
// holds at most one session at a time.
func (s *Store) SaveSession(ctx context.Context, session Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, payload) VALUES (1, @payload)
		 ON CONFLICT (id) DO UPDATE SET payload = @payload`,
		sql.Named("payload", string(payload)))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession returns the persisted session, or ok=false when none exists.
func (s *Store) LoadSession(ctx context.Context) (Session, bool, error) {
	var session Session
	var payload string
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM sessions WHERE id = 1`)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session, false, nil
		}
		return session, false, fmt.Errorf("load session: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return session, false, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, true, nil
}

// ClearSession wipes the session and the cached room list, the local
// equivalent of clearing the browser's storage on logout or expiry.
func (s *Store) ClearSession(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rooms`); err != nil {
		return fmt.Errorf("clear rooms: %w", err)
	}
	return tx.Commit()
}

// SaveRooms replaces the cached room snapshot wholesale. The cache mirrors
// the server's last answer and is never merged with live state.
func (s *Store) SaveRooms(ctx context.Context, rooms []models.Room) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM rooms`); err != nil {
		return fmt.Errorf("clear rooms: %w", err)
	}
	for i, room := range rooms {
		var lastMessage sql.NullString
		if room.LastMessage != nil {
			raw, err := json.Marshal(room.LastMessage)
			if err != nil {
				return fmt.Errorf("marshal last message: %w", err)
			}
			lastMessage = sql.NullString{String: string(raw), Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rooms (id, name, fetch_order, last_message) VALUES (@id, @name, @ord, @last)`,
			sql.Named("id", room.ID), sql.Named("name", room.Name),
			sql.Named("ord", i), sql.Named("last", lastMessage))
		if err != nil {
			return fmt.Errorf("insert room %d: %w", room.ID, err)
		}
	}
	return tx.Commit()
}

// LoadRooms returns the cached room snapshot in fetch order.
func (s *Store) LoadRooms(ctx context.Context) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, last_message FROM rooms ORDER BY fetch_order`)
	if err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var room models.Room
		var lastMessage sql.NullString
		if err := rows.Scan(&room.ID, &room.Name, &lastMessage); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		if lastMessage.Valid {
			var msg models.Message
			if err := json.Unmarshal([]byte(lastMessage.String), &msg); err != nil {
				return nil, fmt.Errorf("unmarshal last message: %w", err)
			}
			room.LastMessage = &msg
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}
