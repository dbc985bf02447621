package selfimprove

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/agentchat/internal/domain"
)

// Notifier hands manual-mode proposals to whoever decides on them.
// Implementations must not block.
type Notifier interface {
	ProposalReady(userID, agentID string, result *AnalysisResult)
}

// Turn identifies a completed chat turn.
type Turn struct {
	UserID         string
	ConversationID string
	AgentID        string
}

// Outcome reports what the per-turn hook did.
type Outcome struct {
	Mode       domain.Mode
	Count      int
	Triggered  bool
	ProposalID string
	Applied    bool
}

// Orchestrator runs the self-improvement hook after each chat turn.
type Orchestrator struct {
	svc      *Service
	notifier Notifier
	async    bool
	timeout  time.Duration
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator. notifier may be nil.
func NewOrchestrator(svc *Service, notifier Notifier, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		svc:      svc,
		notifier: notifier,
		async:    svc.cfg.Async,
		timeout:  2 * svc.analyzer.timeout,
		logger:   logger.With("component", "orchestrator"),
	}
}

// Schedule runs AfterTurn in the background when async mode is on, and
// inline otherwise. Either way the work is detached from ctx cancellation.
func (o *Orchestrator) Schedule(ctx context.Context, turn Turn) {
	if !o.async {
		o.AfterTurn(ctx, turn)
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.AfterTurn(ctx, turn)
	}()
}

// Wait blocks until every scheduled hook has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// AfterTurn counts the prompt and, when the trigger fires, analyzes the agent
// and dispatches the proposal according to the user's mode. Failures are
// logged and never returned; the chat turn has already succeeded.
func (o *Orchestrator) AfterTurn(ctx context.Context, turn Turn) Outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()

	logger := o.logger.With(
		"user_id", turn.UserID,
		"conversation_id", turn.ConversationID,
		"agent_id", turn.AgentID)

	var out Outcome
	if turn.AgentID == "" {
		return out
	}

	settings, err := o.svc.store.GetOrCreateSettings(ctx, turn.UserID)
	if err != nil {
		logger.Error("Failed to load settings", "error", err)
		return out
	}
	out.Mode = settings.Mode
	if !settings.Enabled {
		return out
	}

	count, err := o.svc.store.IncrementPromptCount(ctx, turn.ConversationID, turn.AgentID)
	if err != nil {
		logger.Error("Failed to track prompt", "error", err)
		return out
	}
	out.Count = count

	if !ShouldAnalyze(settings, count) {
		return out
	}
	out.Triggered = true
	logger.Info("Analysis triggered", "count", count, "interval", settings.Interval)

	result, err := o.svc.analyzer.Analyze(ctx, turn.AgentID, turn.UserID)
	if err != nil {
		logger.Warn("Analysis cycle aborted", "error", err)
		return out
	}
	out.ProposalID = result.ProposalID

	if err := o.svc.store.MarkAnalyzed(ctx, turn.ConversationID, turn.AgentID, time.Now()); err != nil {
		logger.Warn("Failed to stamp analysis time", "error", err)
	}

	switch settings.Mode {
	case domain.ModeAuto:
		if _, err := o.svc.applicator.Apply(ctx, turn.AgentID, result.ProposalID, turn.UserID); err != nil {
			logger.Warn("Auto-apply failed", "proposal_id", result.ProposalID, "error", err)
			return out
		}
		out.Applied = true
	case domain.ModeManual:
		if o.notifier != nil {
			o.notifier.ProposalReady(turn.UserID, turn.AgentID, result)
		}
	case domain.ModeDisabled:
		// Recorded for audit only.
	}
	return out
}
