// ABOUTME: Agent and user directory methods on SQLiteStore
// ABOUTME: Presence updates are conditional on the bound connection id to survive reconnect races

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateAgent inserts a newly registered agent.
// Returns ErrUsernameExists if the username is taken.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now()
	}
	if agent.LastSeen.IsZero() {
		agent.LastSeen = agent.CreatedAt
	}

	query := `
		INSERT INTO agents (id, username, password_hash, is_online, last_seen, connection_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		agent.ID,
		agent.Username,
		agent.PasswordHash,
		agent.IsOnline,
		formatTime(agent.LastSeen),
		nullString(agent.ConnectionID),
		formatTime(agent.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Info("created agent", "id", agent.ID, "username", agent.Username)
	return nil
}

const agentColumns = `id, username, password_hash, is_online, last_seen, connection_id, created_at`

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// GetAgentByUsername retrieves an agent by username.
func (s *SQLiteStore) GetAgentByUsername(ctx context.Context, username string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE username = ?`, username)
	return scanAgent(row)
}

// ListAgents returns all registered agents ordered by username.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return agents, nil
}

// SetAgentOnline marks a registered agent online and binds its connection.
func (s *SQLiteStore) SetAgentOnline(ctx context.Context, username, connectionID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET is_online = 1, connection_id = ?, last_seen = ? WHERE username = ?`,
		nullString(connectionID), formatTime(at), username)
	if err != nil {
		return fmt.Errorf("updating agent presence: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAgentOffline clears the agent's presence if connectionID is still bound.
func (s *SQLiteStore) SetAgentOffline(ctx context.Context, username, connectionID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET is_online = 0, connection_id = NULL, last_seen = ?
		 WHERE username = ? AND connection_id = ?`,
		formatTime(at), username, connectionID)
	if err != nil {
		return false, fmt.Errorf("updating agent presence: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n > 0, nil
}

// UpsertUserOnline creates the user on first identify, otherwise marks it online.
func (s *SQLiteStore) UpsertUserOnline(ctx context.Context, username, connectionID string, at time.Time) error {
	query := `
		INSERT INTO users (id, username, is_online, last_seen, connection_id, created_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			is_online = 1,
			last_seen = excluded.last_seen,
			connection_id = excluded.connection_id
	`

	ts := formatTime(at)
	_, err := s.db.ExecContext(ctx, query, uuid.New().String(), username, ts, nullString(connectionID), ts)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// SetUserOffline clears the user's presence if connectionID is still bound.
func (s *SQLiteStore) SetUserOffline(ctx context.Context, username, connectionID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_online = 0, connection_id = NULL, last_seen = ?
		 WHERE username = ? AND connection_id = ?`,
		formatTime(at), username, connectionID)
	if err != nil {
		return false, fmt.Errorf("updating user presence: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return n > 0, nil
}

// GetUser retrieves a user by username.
func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	var online int
	var connID sql.NullString
	var lastSeen, createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, is_online, last_seen, connection_id, created_at FROM users WHERE username = ?`,
		username,
	).Scan(&u.ID, &u.Username, &online, &lastSeen, &connID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.IsOnline = online != 0
	u.ConnectionID = connID.String
	if u.LastSeen, err = parseTime(lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &u, nil
}

// scanAgent reads an agent from either *sql.Row or *sql.Rows.
func scanAgent(scanner interface{ Scan(dest ...any) error }) (*Agent, error) {
	var a Agent
	var online int
	var connID sql.NullString
	var lastSeen, createdAt string

	err := scanner.Scan(&a.ID, &a.Username, &a.PasswordHash, &online, &lastSeen, &connID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}

	a.IsOnline = online != 0
	a.ConnectionID = connID.String
	if a.LastSeen, err = parseTime(lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &a, nil
}

// ResetPresence marks every agent and user offline and unbinds their
// connections. Used at startup when this process is the only relay, since
// no connection survives a restart.
func (s *SQLiteStore) ResetPresence(ctx context.Context, at time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"agents", "users"} {
		result, err := s.db.ExecContext(ctx,
			`UPDATE `+table+` SET is_online = 0, connection_id = NULL, last_seen = ?
			 WHERE is_online = 1 OR connection_id IS NOT NULL`,
			formatTime(at))
		if err != nil {
			return total, fmt.Errorf("resetting %s presence: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("getting rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}
