package domain

import "time"

// DefaultConversationTitle is assigned until a title is generated.
const DefaultConversationTitle = "New Conversation"

// Conversation is a chat thread owned by a user, optionally bound to an agent.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	AgentID   string    `json:"agentId,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasAgent reports whether an agent is bound to the conversation.
func (c *Conversation) HasAgent() bool {
	return c.AgentID != ""
}

// Message is a single stored chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"text"`
	IsUser         bool      `json:"isUser"`
	CreatedAt      time.Time `json:"timestamp"`
}

// ChatStats counts a user's conversations and messages.
type ChatStats struct {
	TotalConversations int `json:"totalConversations"`
	TotalMessages      int `json:"totalMessages"`
	UserMessages       int `json:"userMessages"`
	AIMessages         int `json:"aiMessages"`
}
