package selfimprove

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/ashureev/agentchat/internal/llm"
	"github.com/ashureev/agentchat/internal/store"
)

// DefaultAnalysisTimeout bounds the model call when none is configured.
const DefaultAnalysisTimeout = 45 * time.Second

// maxLoggedReply caps raw replies written to the log.
const maxLoggedReply = 4096

// AgentReader loads agents visible to a user.
type AgentReader interface {
	GetAgentForUser(ctx context.Context, agentID, userID string) (*domain.Agent, error)
}

// MessageReader returns recent messages across a user's conversations with an agent.
type MessageReader interface {
	RecentAgentMessages(ctx context.Context, agentID, userID string, limit int) ([]*domain.Message, error)
}

// RevisionRecorder persists proposals.
type RevisionRecorder interface {
	RecordRevision(ctx context.Context, proposal *domain.RevisionProposal) (string, error)
}

// AnalysisResult is what a successful analysis returns to the caller.
type AnalysisResult struct {
	ProposalID   string              `json:"analysisId"`
	Analysis     domain.Analysis     `json:"analysis"`
	Improvements domain.Improvements `json:"improvements"`
	Current      domain.Snapshot     `json:"currentAgent"`
}

// Analyzer turns an agent's recent conversation history into a stored revision proposal.
type Analyzer struct {
	agents    AgentReader
	messages  MessageReader
	revisions RevisionRecorder
	llm       llm.Completer
	model     string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewAnalyzer creates an Analyzer. model is used for every analysis call
// regardless of the analyzed agent's own preferred model.
func NewAnalyzer(agents AgentReader, messages MessageReader, revisions RevisionRecorder,
	completer llm.Completer, model string, timeout time.Duration, logger *slog.Logger,
) *Analyzer {
	if timeout <= 0 {
		timeout = DefaultAnalysisTimeout
	}
	if model == "" {
		model = domain.DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		agents:    agents,
		messages:  messages,
		revisions: revisions,
		llm:       completer,
		model:     model,
		timeout:   timeout,
		logger:    logger.With("component", "analyzer"),
	}
}

// Analyze samples recent history for the agent, asks the model for a revision,
// validates the reply and records it as an unapplied proposal. Nothing is
// persisted unless the reply passes validation.
func (a *Analyzer) Analyze(ctx context.Context, agentID, ownerID string) (*AnalysisResult, error) {
	agent, err := a.agents.GetAgentForUser(ctx, agentID, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &AgentNotFoundError{AgentID: agentID}
	}
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}

	msgs, err := a.messages.RecentAgentMessages(ctx, agentID, ownerID, MaxAnalysisMessages)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if len(msgs) < MinAnalysisMessages {
		return nil, &InsufficientDataError{Have: len(msgs), Need: MinAnalysisMessages}
	}

	current := agent.Snapshot()
	userExcerpts, agentExcerpts := sampleExcerpts(msgs)
	prompt := BuildAnalysisPrompt(current, userExcerpts, agentExcerpts)

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	start := time.Now()
	raw, err := a.llm.Complete(callCtx, llm.Request{
		Model:    a.model,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	cancel()
	if err != nil {
		return nil, &ProviderError{Err: err}
	}

	reply, err := ParseAnalysisReply(raw)
	if err != nil {
		logged := raw
		if len(logged) > maxLoggedReply {
			logged = logged[:maxLoggedReply]
		}
		a.logger.Warn("Discarding analysis reply",
			"agent_id", agentID,
			"error", err,
			"raw", logged)
		return nil, err
	}

	proposal := &domain.RevisionProposal{
		AgentID:  agentID,
		UserID:   ownerID,
		Previous: current,
		Proposed: reply.Improvements.Snapshot(),
		Analysis: reply.AnalysisJSON,
		Reason:   reply.Improvements.Reason,
	}
	id, err := a.revisions.RecordRevision(ctx, proposal)
	if err != nil {
		return nil, fmt.Errorf("record proposal: %w", err)
	}

	a.logger.Info("Analysis recorded",
		"agent_id", agentID,
		"proposal_id", id,
		"messages", len(msgs),
		"duration", time.Since(start))

	return &AnalysisResult{
		ProposalID:   id,
		Analysis:     reply.Analysis,
		Improvements: reply.Improvements,
		Current:      current,
	}, nil
}
