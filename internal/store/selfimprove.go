package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/ashureev/agentchat/internal/shared"
)

// DefaultHistoryLimit bounds ListRevisions when no limit is given.
const DefaultHistoryLimit = 20

// GetOrCreateSettings returns the user's settings, inserting defaults on first read.
func (s *SQLiteStore) GetOrCreateSettings(ctx context.Context, userID string) (*domain.Settings, error) {
	def := domain.DefaultSettings(userID)
	now := time.Now().Unix()

	err := shared.RetryOnConflict(ctx, s.retry, "init settings", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO self_improvement_settings (user_id, is_enabled, mode, prompt_interval, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO NOTHING`,
			userID, boolToInt(def.Enabled), string(def.Mode), def.Interval, now, now)
		return err
	})
	if shared.IsSQLiteForeignKeyError(err) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("init settings: %w", err)
	}

	var st domain.Settings
	var enabled int
	var mode string
	var createdAt, updatedAt int64
	err = s.db.QueryRowContext(ctx, `
		SELECT user_id, is_enabled, mode, prompt_interval, created_at, updated_at
		FROM self_improvement_settings WHERE user_id = ?`, userID).
		Scan(&st.UserID, &enabled, &mode, &st.Interval, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan settings row: %w", err)
	}

	st.Enabled = enabled != 0
	st.Mode = domain.Mode(mode)
	st.CreatedAt = time.Unix(createdAt, 0)
	st.UpdatedAt = time.Unix(updatedAt, 0)
	return &st, nil
}

// UpsertSettings writes the user's settings. Callers validate before writing.
func (s *SQLiteStore) UpsertSettings(ctx context.Context, st *domain.Settings) error {
	now := time.Now()
	st.UpdatedAt = now
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}

	err := shared.RetryOnConflict(ctx, s.retry, "upsert settings", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO self_improvement_settings (user_id, is_enabled, mode, prompt_interval, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				is_enabled = excluded.is_enabled,
				mode = excluded.mode,
				prompt_interval = excluded.prompt_interval,
				updated_at = excluded.updated_at`,
			st.UserID, boolToInt(st.Enabled), string(st.Mode), st.Interval,
			st.CreatedAt.Unix(), now.Unix())
		return err
	})
	if shared.IsSQLiteForeignKeyError(err) {
		return fmt.Errorf("user %s: %w", st.UserID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

// IncrementPromptCount adds one to the (conversation, agent) counter and returns
// the new value. The read-modify-write happens inside a single statement, so
// concurrent callers each observe a distinct count.
func (s *SQLiteStore) IncrementPromptCount(ctx context.Context, conversationID, agentID string) (int, error) {
	var count int
	err := shared.RetryOnConflict(ctx, s.retry, "increment prompt count", func() error {
		now := time.Now().Unix()
		return s.db.QueryRowContext(ctx, `
			INSERT INTO conversation_analysis (conversation_id, agent_id, user_prompt_count, created_at, updated_at)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT(conversation_id, agent_id) DO UPDATE SET
				user_prompt_count = user_prompt_count + 1,
				updated_at = excluded.updated_at
			RETURNING user_prompt_count`,
			conversationID, agentID, now, now).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("increment prompt count: %w", err)
	}
	return count, nil
}

// GetPromptCount returns the counter record for the pair.
func (s *SQLiteStore) GetPromptCount(ctx context.Context, conversationID, agentID string) (*domain.PromptCount, error) {
	pc := domain.PromptCount{ConversationID: conversationID, AgentID: agentID}
	var lastAnalyzed sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT user_prompt_count, last_analyzed_at
		FROM conversation_analysis WHERE conversation_id = ? AND agent_id = ?`,
		conversationID, agentID).Scan(&pc.Count, &lastAnalyzed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prompt count: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan prompt count row: %w", err)
	}

	if lastAnalyzed.Valid {
		t := time.Unix(lastAnalyzed.Int64, 0)
		pc.LastAnalyzedAt = &t
	}
	return &pc, nil
}

// MarkAnalyzed stamps last_analyzed_at on the counter record.
func (s *SQLiteStore) MarkAnalyzed(ctx context.Context, conversationID, agentID string, at time.Time) error {
	err := shared.RetryOnConflict(ctx, s.retry, "mark analyzed", func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE conversation_analysis SET last_analyzed_at = ?, updated_at = ?
			WHERE conversation_id = ? AND agent_id = ?`,
			at.Unix(), time.Now().Unix(), conversationID, agentID)
		if err != nil {
			return err
		}
		return expectOneRow(result, "prompt count")
	})
	if err != nil {
		return fmt.Errorf("mark analyzed: %w", err)
	}
	return nil
}

const revisionColumns = `id, agent_id, user_id,
	previous_name, previous_description, previous_system_prompt,
	new_name, new_description, new_system_prompt,
	analysis_data, improvement_reason, is_applied, created_at`

func scanRevision(row rowScanner) (*domain.RevisionProposal, error) {
	var p domain.RevisionProposal
	var analysis sql.NullString
	var applied int
	var createdAt int64

	if err := row.Scan(
		&p.ID, &p.AgentID, &p.UserID,
		&p.Previous.Name, &p.Previous.Description, &p.Previous.SystemPrompt,
		&p.Proposed.Name, &p.Proposed.Description, &p.Proposed.SystemPrompt,
		&analysis, &p.Reason, &applied, &createdAt,
	); err != nil {
		return nil, err
	}

	if analysis.Valid && analysis.String != "" {
		p.Analysis = []byte(analysis.String)
	}
	p.Applied = applied != 0
	p.CreatedAt = time.Unix(createdAt, 0)
	return &p, nil
}

// RecordRevision inserts a new, unapplied proposal and returns its ID.
func (s *SQLiteStore) RecordRevision(ctx context.Context, p *domain.RevisionProposal) (string, error) {
	p.ID = s.newID()
	p.Applied = false
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	var analysis any
	if len(p.Analysis) > 0 {
		analysis = string(p.Analysis)
	}

	err := shared.RetryOnConflict(ctx, s.retry, "record revision", func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO agent_prompt_history (`+revisionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			p.ID, p.AgentID, p.UserID,
			p.Previous.Name, p.Previous.Description, p.Previous.SystemPrompt,
			p.Proposed.Name, p.Proposed.Description, p.Proposed.SystemPrompt,
			analysis, p.Reason, p.CreatedAt.Unix())
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert revision: %w", err)
	}
	return p.ID, nil
}

// ListRevisions returns the proposals userID produced for the agent, newest first.
func (s *SQLiteStore) ListRevisions(ctx context.Context, agentID, userID string, limit int) ([]*domain.RevisionProposal, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+revisionColumns+` FROM agent_prompt_history
		WHERE agent_id = ? AND user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, agentID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	defer rows.Close()

	var out []*domain.RevisionProposal
	for rows.Next() {
		p, err := scanRevision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan revision row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetRevision returns a single proposal by ID if userID produced it.
func (s *SQLiteStore) GetRevision(ctx context.Context, id, userID string) (*domain.RevisionProposal, error) {
	p, err := scanRevision(s.db.QueryRowContext(ctx,
		`SELECT `+revisionColumns+` FROM agent_prompt_history WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("revision %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan revision row: %w", err)
	}
	return p, nil
}

// MarkRevisionApplied sets is_applied. A second call leaves the row unchanged.
func (s *SQLiteStore) MarkRevisionApplied(ctx context.Context, id string) error {
	err := shared.RetryOnConflict(ctx, s.retry, "mark revision applied", func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE agent_prompt_history SET is_applied = 1 WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return expectOneRow(result, "revision "+id)
	})
	if err != nil {
		return fmt.Errorf("mark revision applied: %w", err)
	}
	return nil
}

// ApplyRevision writes the proposed triple onto the agent and marks the
// proposal applied. The agent update is conditional on the row still holding
// proposal.Previous, so a concurrent edit turns into ErrConflict. Shared
// default agents are never updated.
func (s *SQLiteStore) ApplyRevision(ctx context.Context, p *domain.RevisionProposal) (*domain.Agent, error) {
	var agent *domain.Agent
	err := shared.RetryOnConflict(ctx, s.retry, "apply revision", func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			result, err := tx.ExecContext(ctx, `
				UPDATE agents SET name = ?, description = ?, system_prompt = ?, updated_at = ?
				WHERE id = ? AND is_default = 0 AND name = ? AND description = ? AND system_prompt = ?`,
				p.Proposed.Name, p.Proposed.Description, p.Proposed.SystemPrompt, time.Now().Unix(),
				p.AgentID, p.Previous.Name, p.Previous.Description, p.Previous.SystemPrompt)
			if err != nil {
				return fmt.Errorf("update agent: %w", err)
			}
			rows, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("get rows affected: %w", err)
			}
			if rows == 0 {
				return fmt.Errorf("agent %s changed since analysis: %w", p.AgentID, ErrConflict)
			}

			if _, err := tx.ExecContext(ctx,
				`UPDATE agent_prompt_history SET is_applied = 1 WHERE id = ? AND agent_id = ?`,
				p.ID, p.AgentID); err != nil {
				return fmt.Errorf("mark applied: %w", err)
			}

			agent, err = scanAgent(tx.QueryRowContext(ctx,
				`SELECT `+agentColumns+` FROM agents WHERE id = ?`, p.AgentID))
			if err != nil {
				return fmt.Errorf("reload agent: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}
