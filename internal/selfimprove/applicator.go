package selfimprove

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/ashureev/agentchat/internal/store"
)

// RevisionApplier reads proposals and applies them transactionally.
type RevisionApplier interface {
	GetRevision(ctx context.Context, id, userID string) (*domain.RevisionProposal, error)
	ApplyRevision(ctx context.Context, proposal *domain.RevisionProposal) (*domain.Agent, error)
}

// Applicator copies a stored proposal onto its agent.
type Applicator struct {
	agents    AgentReader
	revisions RevisionApplier
	logger    *slog.Logger
}

// NewApplicator creates an Applicator.
func NewApplicator(agents AgentReader, revisions RevisionApplier, logger *slog.Logger) *Applicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applicator{
		agents:    agents,
		revisions: revisions,
		logger:    logger.With("component", "applicator"),
	}
}

// Apply overwrites the agent's name, description and system prompt with the
// proposal and marks it applied. The agent must still hold the values the
// proposal was derived from; otherwise a StaleProposalError is returned and
// nothing changes. Re-applying an already applied proposal returns the agent
// unchanged. Shared default agents are refused with a SharedAgentError.
func (a *Applicator) Apply(ctx context.Context, agentID, proposalID, ownerID string) (*domain.Agent, error) {
	agent, err := a.agents.GetAgentForUser(ctx, agentID, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &AgentNotFoundError{AgentID: agentID}
	}
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}

	if !agent.OwnedBy(ownerID) {
		return nil, &SharedAgentError{AgentID: agentID}
	}

	proposal, err := a.revisions.GetRevision(ctx, proposalID, ownerID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && proposal.AgentID != agentID) {
		return nil, &ProposalNotFoundError{ProposalID: proposalID, AgentID: agentID}
	}
	if err != nil {
		return nil, fmt.Errorf("load proposal: %w", err)
	}

	current := agent.Snapshot()
	if proposal.Applied && current == proposal.Proposed {
		return agent, nil
	}
	if current != proposal.Previous {
		return nil, &StaleProposalError{ProposalID: proposalID, AgentID: agentID}
	}

	updated, err := a.revisions.ApplyRevision(ctx, proposal)
	if errors.Is(err, store.ErrConflict) {
		return nil, &StaleProposalError{ProposalID: proposalID, AgentID: agentID}
	}
	if err != nil {
		return nil, fmt.Errorf("apply proposal: %w", err)
	}

	a.logger.Info("Improvement applied", "agent_id", agentID, "proposal_id", proposalID)
	return updated, nil
}
