package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/agentchat/internal/domain"
)

const agentColumns = `id, user_id, name, description, system_prompt, preferred_model, is_default, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var a domain.Agent
	var userID sql.NullString
	var isDefault int
	var createdAt, updatedAt int64

	if err := row.Scan(
		&a.ID, &userID, &a.Name, &a.Description, &a.SystemPrompt,
		&a.PreferredModel, &isDefault, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	a.UserID = userID.String
	a.IsDefault = isDefault != 0
	a.CreatedAt = time.Unix(createdAt, 0)
	a.UpdatedAt = time.Unix(updatedAt, 0)
	return &a, nil
}

// GetAgentForUser returns the agent if userID owns it or it is a shared default.
func (s *SQLiteStore) GetAgentForUser(ctx context.Context, agentID, userID string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents
		WHERE id = ? AND (user_id = ? OR is_default = 1)`

	a, err := scanAgent(s.db.QueryRowContext(ctx, query, agentID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent row: %w", err)
	}
	return a, nil
}

// ListAgents returns the user's own agents first, then shared defaults.
func (s *SQLiteStore) ListAgents(ctx context.Context, userID string) ([]*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents
		WHERE user_id = ? OR is_default = 1
		ORDER BY is_default ASC, created_at ASC, name ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// CreateAgent inserts a new agent. ID and timestamps are filled in when empty.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *domain.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	now := time.Now()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	if agent.PreferredModel == "" {
		agent.PreferredModel = domain.DefaultModel
	}

	var userID any
	if agent.UserID != "" {
		userID = agent.UserID
	}

	query := `INSERT INTO agents (` + agentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		agent.ID, userID, agent.Name, agent.Description, agent.SystemPrompt,
		agent.PreferredModel, boolToInt(agent.IsDefault),
		agent.CreatedAt.Unix(), agent.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// UpdateAgent overwrites the editable fields of an agent owned by agent.UserID.
// Shared defaults can only be changed through ApplyRevision.
func (s *SQLiteStore) UpdateAgent(ctx context.Context, agent *domain.Agent) error {
	agent.UpdatedAt = time.Now()
	query := `
	UPDATE agents SET name = ?, description = ?, system_prompt = ?, preferred_model = ?, updated_at = ?
	WHERE id = ? AND user_id = ?`

	result, err := s.db.ExecContext(ctx, query,
		agent.Name, agent.Description, agent.SystemPrompt, agent.PreferredModel,
		agent.UpdatedAt.Unix(), agent.ID, agent.UserID,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return expectOneRow(result, "agent "+agent.ID)
}

// DeleteAgent removes an agent owned by userID.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, agentID, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ? AND user_id = ?`, agentID, userID)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return expectOneRow(result, "agent "+agentID)
}

// SeedDefaultAgents inserts the given shared agents if no default agent exists yet.
// It returns the number of agents inserted.
func (s *SQLiteStore) SeedDefaultAgents(ctx context.Context, agents []*domain.Agent) (int, error) {
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE is_default = 1`).Scan(&n); err != nil {
			return fmt.Errorf("count default agents: %w", err)
		}
		if n > 0 {
			return nil
		}

		now := time.Now().Unix()
		query := `INSERT INTO agents (` + agentColumns + `) VALUES (?, NULL, ?, ?, ?, ?, 1, ?, ?)`
		for _, a := range agents {
			if a.ID == "" {
				a.ID = uuid.NewString()
			}
			if a.PreferredModel == "" {
				a.PreferredModel = domain.DefaultModel
			}
			if _, err := tx.ExecContext(ctx, query,
				a.ID, a.Name, a.Description, a.SystemPrompt, a.PreferredModel, now, now,
			); err != nil {
				return fmt.Errorf("insert default agent %q: %w", a.Name, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
