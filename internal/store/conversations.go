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

const conversationColumns = `id, user_id, agent_id, title, created_at, updated_at`

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var c domain.Conversation
	var agentID sql.NullString
	var createdAt, updatedAt int64

	if err := row.Scan(&c.ID, &c.UserID, &agentID, &c.Title, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.AgentID = agentID.String
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return &c, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateConversation inserts a conversation. ID, title and timestamps are filled in when empty.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.Title == "" {
		conv.Title = domain.DefaultConversationTitle
	}
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	query := `INSERT INTO conversations (` + conversationColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		conv.ID, conv.UserID, nullable(conv.AgentID), conv.Title, now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetConversation returns the conversation if it belongs to userID.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ? AND user_id = ?`
	c, err := scanConversation(s.db.QueryRowContext(ctx, query, conversationID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	return c, nil
}

// ListConversations returns the user's conversations, most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE user_id = ? ORDER BY updated_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []*domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// DeleteConversation removes a conversation and, by cascade, its messages and counters.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ? AND user_id = ?`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return expectOneRow(result, "conversation "+conversationID)
}

// SetConversationAgent binds the conversation to an agent.
func (s *SQLiteStore) SetConversationAgent(ctx context.Context, conversationID, agentID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET agent_id = ?, updated_at = ? WHERE id = ?`,
		nullable(agentID), time.Now().Unix(), conversationID)
	if err != nil {
		return fmt.Errorf("set conversation agent: %w", err)
	}
	return expectOneRow(result, "conversation "+conversationID)
}

// SetConversationTitle replaces the conversation title.
func (s *SQLiteStore) SetConversationTitle(ctx context.Context, conversationID, title string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().Unix(), conversationID)
	if err != nil {
		return fmt.Errorf("set conversation title: %w", err)
	}
	return expectOneRow(result, "conversation "+conversationID)
}

// TouchConversation bumps updated_at.
func (s *SQLiteStore) TouchConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now().Unix(), conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// AddMessage appends a message to a conversation.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, content, is_user, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Content, boolToInt(msg.IsUser), msg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		var m domain.Message
		var isUser int
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Content, &isUser, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.IsUser = isUser != 0
		m.CreatedAt = time.Unix(createdAt, 0)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// ListMessages returns a conversation's messages oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, content, is_user, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return scanMessages(rows)
}

// RecentAgentMessages returns up to limit messages, newest first, from every
// conversation of userID that is bound to agentID.
func (s *SQLiteStore) RecentAgentMessages(ctx context.Context, agentID, userID string, limit int) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.content, m.is_user, m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.agent_id = ? AND c.user_id = ?
		ORDER BY m.created_at DESC, m.rowid DESC
		LIMIT ?`, agentID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query agent messages: %w", err)
	}
	return scanMessages(rows)
}

// ChatStats counts the user's conversations and their messages.
func (s *SQLiteStore) ChatStats(ctx context.Context, userID string) (*domain.ChatStats, error) {
	var st domain.ChatStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT c.id),
			COUNT(m.id),
			COALESCE(SUM(CASE WHEN m.is_user = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN m.is_user = 0 THEN 1 ELSE 0 END), 0)
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		WHERE c.user_id = ?`, userID).
		Scan(&st.TotalConversations, &st.TotalMessages, &st.UserMessages, &st.AIMessages)
	if err != nil {
		return nil, fmt.Errorf("query chat stats: %w", err)
	}
	return &st, nil
}
