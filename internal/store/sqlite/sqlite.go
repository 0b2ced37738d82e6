package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tg11/boundless/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new SQLite store.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, nil)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without a separate migrate step.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection serializes every write transaction, which is what
	// gives Append its monotonic timestamps and Edit its linear history.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// SetClock replaces the time source. Intended for tests.
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.now = now
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// ==== UserStore implementation ====

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, COALESCE(display_name, ''), password_hash, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, COALESCE(display_name, ''), password_hash, created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var (
		user      store.User
		createdAt int64
	)
	err := row.Scan(&user.ID, &user.Username, &user.DisplayName, &user.PasswordHash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, unavailable("query user", err)
	}
	user.CreatedAt = fromNanos(createdAt)
	return &user, nil
}

// ==== AccessStore implementation ====

// GetChannel retrieves a channel with its allowed roles.
func (s *SQLiteStore) GetChannel(ctx context.Context, id string) (*store.Channel, error) {
	query := `
		SELECT id, server_id, category_id, name, is_private, created_at
		FROM channels
		WHERE id = ?
	`
	var (
		ch        store.Channel
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&ch.ID,
		&ch.ServerID,
		&ch.CategoryID,
		&ch.Name,
		&ch.Private,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrChannelNotFound
		}
		return nil, unavailable("query channel", err)
	}
	ch.CreatedAt = fromNanos(createdAt)

	roles, err := s.queryStrings(ctx, `SELECT role_id FROM channel_roles WHERE channel_id = ? ORDER BY role_id`, id)
	if err != nil {
		return nil, unavailable("query channel roles", err)
	}
	ch.AllowedRoles = roles

	return &ch, nil
}

// GetMembership resolves a user's membership and roles in a server.
// An unknown server yields a non-member result rather than an error.
func (s *SQLiteStore) GetMembership(ctx context.Context, userID int64, serverID string) (*store.Membership, error) {
	m := &store.Membership{UserID: userID, ServerID: serverID}

	var ownerID int64
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM servers WHERE id = ?`, serverID).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return m, nil
		}
		return nil, unavailable("query server", err)
	}
	m.Owner = ownerID == userID

	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM server_members WHERE server_id = ? AND user_id = ?`, serverID, userID,
	).Scan(&exists)
	switch {
	case err == nil:
		m.Member = true
	case errors.Is(err, sql.ErrNoRows):
		m.Member = m.Owner
	default:
		return nil, unavailable("query membership", err)
	}

	roles, err := s.queryStrings(ctx, `
		SELECT rm.role_id
		FROM role_members rm
		JOIN roles r ON r.id = rm.role_id
		WHERE r.server_id = ? AND rm.user_id = ?
		ORDER BY rm.role_id
	`, serverID, userID)
	if err != nil {
		return nil, unavailable("query roles", err)
	}
	m.Roles = roles

	return m, nil
}

func (s *SQLiteStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ==== MessageStore implementation ====

const messageColumns = `id, channel_id, sender_id, body, created_at, edited_at, deleted, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var (
		msg       store.Message
		createdAt int64
		editedAt  sql.NullInt64
		deletedAt sql.NullInt64
	)
	if err := row.Scan(&msg.ID, &msg.ChannelID, &msg.SenderID, &msg.Body, &createdAt, &editedAt, &msg.Deleted, &deletedAt); err != nil {
		return nil, err
	}
	msg.CreatedAt = fromNanos(createdAt)
	msg.EditedAt = fromNullNanos(editedAt)
	msg.DeletedAt = fromNullNanos(deletedAt)
	return &msg, nil
}

// Append persists a new message. The creation timestamp never goes backwards
// within a channel, even if the wall clock does.
func (s *SQLiteStore) Append(ctx context.Context, channelID string, senderID int64, body string) (*store.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM channels WHERE id = ?`, channelID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrChannelNotFound
		}
		return nil, unavailable("query channel", err)
	}

	var last sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT MAX(created_at) FROM messages WHERE channel_id = ?`, channelID).Scan(&last)
	if err != nil {
		return nil, unavailable("query last message", err)
	}

	createdAt := toNanos(s.now())
	if last.Valid && last.Int64 > createdAt {
		createdAt = last.Int64
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (channel_id, sender_id, body, created_at)
		VALUES (?, ?, ?, ?)
	`, channelID, senderID, body, createdAt)
	if err != nil {
		return nil, unavailable("insert message", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, unavailable("get last insert id", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit transaction", err)
	}

	return &store.Message{
		ID:        id,
		ChannelID: channelID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: fromNanos(createdAt),
	}, nil
}

// Edit replaces a message body. The history row and the body update commit
// together or not at all.
func (s *SQLiteStore) Edit(ctx context.Context, messageID, editorID int64, body string) (*store.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	msg, err := scanMessage(tx.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrMessageNotFound
		}
		return nil, unavailable("query message", err)
	}
	if msg.SenderID != editorID {
		return nil, store.ErrNotOwner
	}
	if msg.Deleted {
		return nil, store.ErrAlreadyDeleted
	}

	var lastEdit sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT MAX(edited_at) FROM message_edits WHERE message_id = ?`, messageID).Scan(&lastEdit)
	if err != nil {
		return nil, unavailable("query last edit", err)
	}
	editedAt := toNanos(s.now())
	if lastEdit.Valid && lastEdit.Int64 > editedAt {
		editedAt = lastEdit.Int64
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO message_edits (message_id, editor_id, old_body, edited_at)
		VALUES (?, ?, ?, ?)
	`, messageID, editorID, msg.Body, editedAt); err != nil {
		return nil, unavailable("insert edit history", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET body = ?, edited_at = ? WHERE id = ?
	`, body, editedAt, messageID); err != nil {
		return nil, unavailable("update message", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit transaction", err)
	}

	edited := fromNanos(editedAt)
	msg.Body = body
	msg.EditedAt = &edited
	return msg, nil
}

// SoftDelete marks a message deleted. The sender and the owner of the
// channel's server may delete it.
func (s *SQLiteStore) SoftDelete(ctx context.Context, messageID, requesterID int64) (*store.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	msg, err := scanMessage(tx.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrMessageNotFound
		}
		return nil, unavailable("query message", err)
	}

	if msg.SenderID != requesterID {
		var ownerID int64
		err := tx.QueryRowContext(ctx, `
			SELECT s.owner_id
			FROM channels c
			JOIN servers s ON s.id = c.server_id
			WHERE c.id = ?
		`, msg.ChannelID).Scan(&ownerID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, unavailable("query server owner", err)
		}
		if err != nil || ownerID != requesterID {
			return nil, store.ErrNotOwner
		}
	}
	if msg.Deleted {
		return nil, store.ErrAlreadyDeleted
	}

	deletedAt := toNanos(s.now())
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET deleted = 1, deleted_at = ? WHERE id = ?
	`, deletedAt, messageID); err != nil {
		return nil, unavailable("update message", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit transaction", err)
	}

	at := fromNanos(deletedAt)
	msg.Deleted = true
	msg.DeletedAt = &at
	return msg, nil
}

// GetMessage retrieves a message by ID, including soft-deleted ones.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrMessageNotFound
		}
		return nil, unavailable("query message", err)
	}
	return msg, nil
}

// History lists a message's prior bodies, most recent edit first.
func (s *SQLiteStore) History(ctx context.Context, messageID int64) ([]store.MessageEdit, error) {
	if _, err := s.GetMessage(ctx, messageID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, editor_id, old_body, edited_at
		FROM message_edits
		WHERE message_id = ?
		ORDER BY edited_at DESC, id DESC
	`, messageID)
	if err != nil {
		return nil, unavailable("query history", err)
	}
	defer rows.Close()

	history := []store.MessageEdit{}
	for rows.Next() {
		var (
			edit     store.MessageEdit
			editedAt int64
		)
		if err := rows.Scan(&edit.ID, &edit.MessageID, &edit.EditorID, &edit.OldBody, &editedAt); err != nil {
			return nil, unavailable("scan history", err)
		}
		edit.EditedAt = fromNanos(editedAt)
		history = append(history, edit)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate history", err)
	}

	return history, nil
}

// ListChannel lists channel messages in (created_at, id) order.
func (s *SQLiteStore) ListChannel(ctx context.Context, channelID string, opts store.ListOptions) ([]store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE channel_id = ?`
	args := []any{channelID}

	if !opts.IncludeDeleted {
		query += ` AND deleted = 0`
	}
	if opts.After != nil {
		after := toNanos(opts.After.CreatedAt)
		query += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
		args = append(args, after, after, opts.After.ID)
	}

	// With a limit we want the newest rows, so scan backwards and reverse.
	if opts.Limit > 0 {
		query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
		args = append(args, opts.Limit)
	} else {
		query += ` ORDER BY created_at ASC, id ASC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query messages", err)
	}
	defer rows.Close()

	messages := []store.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, unavailable("scan message", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate messages", err)
	}

	if opts.Limit > 0 {
		for i := range len(messages) / 2 {
			messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
		}
	}

	return messages, nil
}
