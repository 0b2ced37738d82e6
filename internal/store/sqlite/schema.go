package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates every table the realtime layer reads or writes.
// Timestamps are stored as unix nanoseconds so ordering is exact.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	display_name  TEXT,
	password_hash TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS servers (
	id         TEXT PRIMARY KEY,
	owner_id   INTEGER NOT NULL REFERENCES users(id),
	name       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS server_members (
	server_id TEXT NOT NULL REFERENCES servers(id),
	user_id   INTEGER NOT NULL REFERENCES users(id),
	joined_at INTEGER NOT NULL,
	PRIMARY KEY (server_id, user_id)
);

CREATE TABLE IF NOT EXISTS roles (
	id        TEXT PRIMARY KEY,
	server_id TEXT NOT NULL REFERENCES servers(id),
	name      TEXT NOT NULL,
	UNIQUE (server_id, name)
);

CREATE TABLE IF NOT EXISTS role_members (
	role_id TEXT NOT NULL REFERENCES roles(id),
	user_id INTEGER NOT NULL REFERENCES users(id),
	PRIMARY KEY (role_id, user_id)
);

CREATE TABLE IF NOT EXISTS categories (
	id        TEXT PRIMARY KEY,
	server_id TEXT NOT NULL REFERENCES servers(id),
	name      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS channels (
	id          TEXT PRIMARY KEY,
	server_id   TEXT NOT NULL REFERENCES servers(id),
	category_id TEXT NOT NULL REFERENCES categories(id),
	name        TEXT NOT NULL,
	is_private  BOOLEAN NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS channel_roles (
	channel_id TEXT NOT NULL REFERENCES channels(id),
	role_id    TEXT NOT NULL REFERENCES roles(id),
	PRIMARY KEY (channel_id, role_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id TEXT NOT NULL REFERENCES channels(id),
	sender_id  INTEGER NOT NULL REFERENCES users(id),
	body       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	edited_at  INTEGER,
	deleted    BOOLEAN NOT NULL DEFAULT 0,
	deleted_at INTEGER
);

CREATE TABLE IF NOT EXISTS message_edits (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id INTEGER NOT NULL REFERENCES messages(id),
	editor_id  INTEGER NOT NULL REFERENCES users(id),
	old_body   TEXT NOT NULL,
	edited_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_message_edits_message ON message_edits(message_id, edited_at);
CREATE INDEX IF NOT EXISTS idx_role_members_user ON role_members(user_id);
`

// Migrate applies Schema to db. It is safe to run repeatedly.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Migrate applies Schema through the store's connection.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
