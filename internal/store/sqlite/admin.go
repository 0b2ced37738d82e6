package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/tg11/boundless/internal/store"
)

// EveryoneRole is the role every server member receives on join.
const EveryoneRole = "@everyone"

// Writers for the admin surface: registration, the seed command and tests.

// CreateUser creates a user with an already hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, displayName, passwordHash string) (*store.User, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, display_name, password_hash, created_at)
		VALUES (?, NULLIF(?, ''), ?, ?)
	`, username, displayName, passwordHash, toNanos(s.now()))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// CreateServer creates a server owned by ownerID, its @everyone role, and
// the owner's membership.
func (s *SQLiteStore) CreateServer(ctx context.Context, ownerID int64, name string) (*store.Server, error) {
	srv := &store.Server{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: s.now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO servers (id, owner_id, name, created_at) VALUES (?, ?, ?, ?)
	`, srv.ID, ownerID, name, toNanos(srv.CreatedAt)); err != nil {
		return nil, fmt.Errorf("insert server: %w", err)
	}

	everyoneID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO roles (id, server_id, name) VALUES (?, ?, ?)
	`, everyoneID, srv.ID, EveryoneRole); err != nil {
		return nil, fmt.Errorf("insert everyone role: %w", err)
	}

	if err := addMemberTx(ctx, tx, srv.ID, everyoneID, ownerID, toNanos(srv.CreatedAt)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return srv, nil
}

// CreateCategory creates a channel category in a server and returns its ID.
func (s *SQLiteStore) CreateCategory(ctx context.Context, serverID, name string) (string, error) {
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, server_id, name) VALUES (?, ?, ?)
	`, id, serverID, name); err != nil {
		return "", fmt.Errorf("insert category: %w", err)
	}
	return id, nil
}

// CreateRole creates a role in a server and returns its ID.
func (s *SQLiteStore) CreateRole(ctx context.Context, serverID, name string) (string, error) {
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (id, server_id, name) VALUES (?, ?, ?)
	`, id, serverID, name); err != nil {
		return "", fmt.Errorf("insert role: %w", err)
	}
	return id, nil
}

// CreateChannel inserts ch and its allowed roles. ch.ID is assigned.
func (s *SQLiteStore) CreateChannel(ctx context.Context, ch *store.Channel) error {
	ch.ID = uuid.NewString()
	ch.CreatedAt = s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO channels (id, server_id, category_id, name, is_private, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ch.ID, ch.ServerID, ch.CategoryID, ch.Name, ch.Private, toNanos(ch.CreatedAt)); err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}

	for _, roleID := range ch.AllowedRoles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO channel_roles (channel_id, role_id) VALUES (?, ?)
		`, ch.ID, roleID); err != nil {
			return fmt.Errorf("insert channel role: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// AddMember adds a user to a server and grants the @everyone role.
func (s *SQLiteStore) AddMember(ctx context.Context, serverID string, userID int64) error {
	var everyoneID string
	if err := s.db.QueryRowContext(ctx, `
		SELECT id FROM roles WHERE server_id = ? AND name = ?
	`, serverID, EveryoneRole).Scan(&everyoneID); err != nil {
		return fmt.Errorf("query everyone role: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := addMemberTx(ctx, tx, serverID, everyoneID, userID, toNanos(s.now())); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveMember removes a user from a server along with the roles held there.
func (s *SQLiteStore) RemoveMember(ctx context.Context, serverID string, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM server_members WHERE server_id = ? AND user_id = ?
	`, serverID, userID); err != nil {
		return fmt.Errorf("delete server member: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM role_members
		WHERE user_id = ? AND role_id IN (SELECT id FROM roles WHERE server_id = ?)
	`, userID, serverID); err != nil {
		return fmt.Errorf("delete role members: %w", err)
	}
	return tx.Commit()
}

// AssignRole grants a role to a user.
func (s *SQLiteStore) AssignRole(ctx context.Context, roleID string, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO role_members (role_id, user_id) VALUES (?, ?)
	`, roleID, userID); err != nil {
		return fmt.Errorf("insert role member: %w", err)
	}
	return nil
}

func addMemberTx(ctx context.Context, tx *sql.Tx, serverID, everyoneID string, userID, joinedAt int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO server_members (server_id, user_id, joined_at) VALUES (?, ?, ?)
	`, serverID, userID, joinedAt); err != nil {
		return fmt.Errorf("insert server member: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO role_members (role_id, user_id) VALUES (?, ?)
	`, everyoneID, userID); err != nil {
		return fmt.Errorf("insert role member: %w", err)
	}
	return nil
}
