package selfimprove

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/agentchat/internal/config"
	"github.com/ashureev/agentchat/internal/domain"
	"github.com/ashureev/agentchat/internal/llm"
	"github.com/ashureev/agentchat/internal/shared"
	"github.com/ashureev/agentchat/internal/store"
)

const validReply = "Here you go:\n" + validReplyJSON

type fixture struct {
	st    *store.SQLiteStore
	svc   *Service
	user  string
	agent *domain.Agent
	conv  *domain.Conversation

	calls     atomic.Int32
	lastModel atomic.Value
}

// newFixture builds a service over a temp database with one user, one agent
// preferring gpt-4o and one conversation bound to it. reply answers every
// model call.
func newFixture(t *testing.T, async bool, reply func() (string, error)) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"), shared.DefaultRetryPolicy())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{st: st, user: "anon_test"}
	now := time.Now()
	require.NoError(t, st.UpsertUser(ctx, &domain.User{
		UserID: f.user, Username: "tester", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}))

	f.agent = &domain.Agent{
		UserID:         f.user,
		Name:           "Helper",
		Description:    "General helper",
		SystemPrompt:   "You are helpful.",
		PreferredModel: "gpt-4o",
	}
	require.NoError(t, st.CreateAgent(ctx, f.agent))

	f.conv = &domain.Conversation{UserID: f.user, AgentID: f.agent.ID}
	require.NoError(t, st.CreateConversation(ctx, f.conv))

	completer := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (string, error) {
		f.calls.Add(1)
		f.lastModel.Store(req.Model)
		return reply()
	})

	cfg := config.Default().SelfImprove
	cfg.Async = async
	cfg.AnalysisTimeout = 2 * time.Second
	f.svc = NewService(st, completer, cfg, nil)
	return f
}

func replyWith(s string) func() (string, error) {
	return func() (string, error) { return s, nil }
}

func (f *fixture) addMessages(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.st.AddMessage(context.Background(), &domain.Message{
			ConversationID: f.conv.ID,
			Content:        fmt.Sprintf("message %d", i),
			IsUser:         i%2 == 0,
		}))
	}
}

func (f *fixture) revisions(t *testing.T) []*domain.RevisionProposal {
	t.Helper()
	list, err := f.st.ListRevisions(context.Background(), f.agent.ID, f.user, 100)
	require.NoError(t, err)
	return list
}

func (f *fixture) reloadAgent(t *testing.T) *domain.Agent {
	t.Helper()
	a, err := f.st.GetAgentForUser(context.Background(), f.agent.ID, f.user)
	require.NoError(t, err)
	return a
}

func TestSettingsDefaultsAndValidation(t *testing.T) {
	f := newFixture(t, false, replyWith(validReply))
	ctx := context.Background()

	got, err := f.svc.GetSettings(ctx, f.user)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, domain.ModeManual, got.Mode)
	assert.Equal(t, 5, got.Interval)

	invalid := []SettingsUpdate{
		{Enabled: true, Mode: "sometimes", Interval: 5},
		{Enabled: true, Mode: "auto", Interval: 0},
		{Enabled: true, Mode: "auto", Interval: -3},
	}
	for _, upd := range invalid {
		_, err := f.svc.UpdateSettings(ctx, f.user, upd)
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve), "update %+v: got %v", upd, err)
	}

	// Rejected updates leave the stored record untouched.
	got, err = f.svc.GetSettings(ctx, f.user)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	_, err = f.svc.UpdateSettings(ctx, f.user, SettingsUpdate{Enabled: true, Mode: "auto", Interval: 3})
	require.NoError(t, err)
	got, err = f.svc.GetSettings(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, domain.ModeAuto, got.Mode)
	assert.Equal(t, 3, got.Interval)
}

func TestTrackPromptSequential(t *testing.T) {
	f := newFixture(t, false, replyWith(validReply))
	for k := 1; k <= 7; k++ {
		count, err := f.svc.TrackPrompt(context.Background(), f.user, f.conv.ID)
		require.NoError(t, err)
		assert.Equal(t, k, count)
	}
}

func TestTrackPromptConcurrent(t *testing.T) {
	f := newFixture(t, false, replyWith(validReply))
	const k = 16

	var wg sync.WaitGroup
	results := make(chan int, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			count, err := f.svc.TrackPrompt(context.Background(), f.user, f.conv.ID)
			if err != nil {
				t.Errorf("track prompt: %v", err)
				return
			}
			results <- count
		}()
	}
	wg.Wait()
	close(results)

	var counts []int
	for c := range results {
		counts = append(counts, c)
	}
	sort.Ints(counts)
	require.Len(t, counts, k)
	assert.Equal(t, k, counts[k-1])

	pc, err := f.st.GetPromptCount(context.Background(), f.conv.ID, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, k, pc.Count)
}

func TestTrackPromptErrors(t *testing.T) {
	f := newFixture(t, false, replyWith(validReply))
	ctx := context.Background()

	_, err := f.svc.TrackPrompt(ctx, f.user, "missing")
	var cnf *ConversationNotFoundError
	assert.True(t, errors.As(err, &cnf))

	_, err = f.svc.TrackPrompt(ctx, "someone-else", f.conv.ID)
	assert.True(t, errors.As(err, &cnf))

	loose := &domain.Conversation{UserID: f.user}
	require.NoError(t, f.st.CreateConversation(ctx, loose))
	_, err = f.svc.TrackPrompt(ctx, f.user, loose.ID)
	var na *NotAssociatedError
	assert.True(t, errors.As(err, &na))
}

func TestAnalyzeInsufficientData(t *testing.T) {
	f := newFixture(t, false, replyWith(validReply))
	f.addMessages(t, 4)

	_, err := f.svc.Analyze(context.Background(), f.user, f.agent.ID)
	var ide *InsufficientDataError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, 4, ide.Have)
	assert.Equal(t, 5, ide.Need)
	assert.Zero(t, f.calls.Load())
	assert.Empty(t, f.revisions(t))
}

func TestAnalyzeUnknownAgent(t *testing.T) {
	f := newFixture(t, false, replyWith(validReply))

	_, err := f.svc.Analyze(context.Background(), f.user, "missing")
	var anf *AgentNotFoundError
	assert.True(t, errors.As(err, &anf))

	_, err = f.svc.Analyze(context.Background(), "someone-else", f.agent.ID)
	assert.True(t, errors.As(err, &anf))
}

func TestAnalyzeReplyWithoutJSON(t *testing.T) {
	f := newFixture(t, false, replyWith("I am unable to produce an analysis right now."))
	f.addMessages(t, 6)

	_, err := f.svc.Analyze(context.Background(), f.user, f.agent.ID)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Empty(t, f.revisions(t))
}

func TestAnalyzeReplyWithBadShape(t *testing.T) {
	f := newFixture(t, false, replyWith(`{"analysis":{"themes":[]},"improvements":{}}`))
	f.addMessages(t, 6)

	_, err := f.svc.Analyze(context.Background(), f.user, f.agent.ID)
	var se *ShapeError
	require.True(t, errors.As(err, &se))
	assert.Empty(t, f.revisions(t))
}

func TestAnalyzeProviderFailure(t *testing.T) {
	boom := errors.New("connection refused")
	f := newFixture(t, false, func() (string, error) { return "", boom })
	f.addMessages(t, 6)

	_, err := f.svc.Analyze(context.Background(), f.user, f.agent.ID)
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.revisions(t))
}

func TestAnalyzeRecordsProposal(t *testing.T) {
	f := newFixture(t, false, replyWith(validReply))
	f.addMessages(t, 6)

	res, err := f.svc.Analyze(context.Background(), f.user, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "deepseek-v3", f.lastModel.Load(), "analysis uses the configured model, not the agent's")
	assert.Equal(t, f.agent.Snapshot(), res.Current)
	assert.Equal(t, "Gopher", res.Improvements.Name)

	list := f.revisions(t)
	require.Len(t, list, 1)
	p := list[0]
	assert.Equal(t, res.ProposalID, p.ID)
	assert.False(t, p.Applied)
	assert.Equal(t, f.agent.Snapshot(), p.Previous)
	assert.Equal(t, domain.Snapshot{
		Name:         "Gopher",
		Description:  "Go expert",
		SystemPrompt: "You are a Go expert. Show code.",
	}, p.Proposed)
	assert.Equal(t, "users mostly ask about Go", p.Reason)
	assert.Contains(t, string(p.Analysis), `"communicationStyle"`)

	// The agent itself is untouched until apply.
	assert.Equal(t, f.agent.Snapshot(), f.reloadAgent(t).Snapshot())
}

func TestApplyForeignProposal(t *testing.T) {
	f := newFixture(t, false, replyWith(validReply))
	ctx := context.Background()
	f.addMessages(t, 6)
	res, err := f.svc.Analyze(ctx, f.user, f.agent.ID)
	require.NoError(t, err)

	other := &domain.Agent{UserID: f.user, Name: "Other", SystemPrompt: "x"}
	require.NoError(t, f.st.CreateAgent(ctx, other))

	_, err = f.svc.Apply(ctx, f.user, other.ID, res.ProposalID)
	var pnf *ProposalNotFoundError
	require.True(t, errors.As(err, &pnf))

	_, err = f.svc.Apply(ctx, f.user, f.agent.ID, "missing")
	require.True(t, errors.As(err, &pnf))

	got, err := f.st.GetAgentForUser(ctx, other.ID, f.user)
	require.NoError(t, err)
	assert.Equal(t, "Other", got.Name)
	assert.Equal(t, f.agent.Snapshot(), f.reloadAgent(t).Snapshot())
}

func TestApplyStaleProposal(t *testing.T) {
	f := newFixture(t, false, replyWith(validReply))
	ctx := context.Background()
	f.addMessages(t, 6)
	res, err := f.svc.Analyze(ctx, f.user, f.agent.ID)
	require.NoError(t, err)

	edited := f.reloadAgent(t)
	edited.SystemPrompt = "Edited by hand."
	require.NoError(t, f.st.UpdateAgent(ctx, edited))

	_, err = f.svc.Apply(ctx, f.user, f.agent.ID, res.ProposalID)
	var spe *StaleProposalError
	require.True(t, errors.As(err, &spe))
	assert.Equal(t, "Edited by hand.", f.reloadAgent(t).SystemPrompt)

	p, err := f.st.GetRevision(ctx, res.ProposalID, f.user)
	require.NoError(t, err)
	assert.False(t, p.Applied)
}

func TestApplyTwiceIsHarmless(t *testing.T) {
	f := newFixture(t, false, replyWith(validReply))
	ctx := context.Background()
	f.addMessages(t, 6)
	res, err := f.svc.Analyze(ctx, f.user, f.agent.ID)
	require.NoError(t, err)

	first, err := f.svc.Apply(ctx, f.user, f.agent.ID, res.ProposalID)
	require.NoError(t, err)
	second, err := f.svc.Apply(ctx, f.user, f.agent.ID, res.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, first.Snapshot(), second.Snapshot())

	require.NoError(t, f.st.MarkRevisionApplied(ctx, res.ProposalID))
	p, err := f.st.GetRevision(ctx, res.ProposalID, f.user)
	require.NoError(t, err)
	assert.True(t, p.Applied)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, false, replyWith(validReply))
	ctx := context.Background()
	f.addMessages(t, 6)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Analyze(ctx, f.user, f.agent.ID)
		require.NoError(t, err)
	}

	list, err := f.svc.History(ctx, f.user, f.agent.ID, 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	list, err = f.svc.History(ctx, f.user, f.agent.ID, 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.svc.History(ctx, "someone-else", f.agent.ID, 0)
	var anf *AgentNotFoundError
	assert.True(t, errors.As(err, &anf))
}

type recordingNotifier struct {
	mu    sync.Mutex
	ready []*AnalysisResult
}

func (n *recordingNotifier) ProposalReady(_, _ string, result *AnalysisResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ready = append(n.ready, result)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.ready)
}

// chat simulates complete turns: a stored user message and agent reply
// followed by the per-turn hook.
func (f *fixture) chat(t *testing.T, o *Orchestrator, turns int) []Outcome {
	t.Helper()
	var outcomes []Outcome
	for i := 0; i < turns; i++ {
		f.addMessages(t, 2)
		outcomes = append(outcomes, o.AfterTurn(context.Background(), Turn{
			UserID:         f.user,
			ConversationID: f.conv.ID,
			AgentID:        f.agent.ID,
		}))
	}
	return outcomes
}

func (f *fixture) enable(t *testing.T, mode domain.Mode) {
	t.Helper()
	_, err := f.svc.UpdateSettings(context.Background(), f.user,
		SettingsUpdate{Enabled: true, Mode: string(mode), Interval: 5})
	require.NoError(t, err)
}

func TestEndToEndManual(t *testing.T) {
	f := newFixture(t, false, replyWith(validReply))
	f.enable(t, domain.ModeManual)
	notifier := &recordingNotifier{}
	o := NewOrchestrator(f.svc, notifier, nil)

	outcomes := f.chat(t, o, 5)
	for i, out := range outcomes[:4] {
		assert.False(t, out.Triggered, "turn %d", i+1)
	}
	last := outcomes[4]
	assert.True(t, last.Triggered)
	assert.False(t, last.Applied)
	assert.Equal(t, 5, last.Count)
	assert.EqualValues(t, 1, f.calls.Load())
	assert.Equal(t, 1, notifier.count())

	list := f.revisions(t)
	require.Len(t, list, 1)
	assert.False(t, list[0].Applied)
	assert.Equal(t, f.agent.Snapshot(), f.reloadAgent(t).Snapshot())

	pc, err := f.st.GetPromptCount(context.Background(), f.conv.ID, f.agent.ID)
	require.NoError(t, err)
	assert.NotNil(t, pc.LastAnalyzedAt)

	updated, err := f.svc.Apply(context.Background(), f.user, f.agent.ID, last.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, list[0].Proposed, updated.Snapshot())
	assert.Equal(t, "gpt-4o", updated.PreferredModel)

	list = f.revisions(t)
	assert.True(t, list[0].Applied)
}

func TestEndToEndAuto(t *testing.T) {
	f := newFixture(t, false, replyWith(validReply))
	f.enable(t, domain.ModeAuto)
	notifier := &recordingNotifier{}
	o := NewOrchestrator(f.svc, notifier, nil)

	outcomes := f.chat(t, o, 5)
	last := outcomes[4]
	assert.True(t, last.Triggered)
	assert.True(t, last.Applied)
	assert.Zero(t, notifier.count())

	agent := f.reloadAgent(t)
	assert.Equal(t, "Gopher", agent.Name)
	assert.Equal(t, "You are a Go expert. Show code.", agent.SystemPrompt)
	assert.Equal(t, "gpt-4o", agent.PreferredModel)

	list := f.revisions(t)
	require.Len(t, list, 1)
	assert.True(t, list[0].Applied)
}

func TestEndToEndDisabledMode(t *testing.T) {
	f := newFixture(t, false, replyWith(validReply))
	f.enable(t, domain.ModeDisabled)
	notifier := &recordingNotifier{}
	o := NewOrchestrator(f.svc, notifier, nil)

	f.chat(t, o, 5)
	assert.Zero(t, notifier.count())

	list := f.revisions(t)
	require.Len(t, list, 1)
	assert.False(t, list[0].Applied)

	// More turns below the next multiple leave it untouched.
	f.chat(t, o, 3)
	list = f.revisions(t)
	require.Len(t, list, 1)
	assert.False(t, list[0].Applied)
	assert.Equal(t, f.agent.Snapshot(), f.reloadAgent(t).Snapshot())
}

func TestOrchestratorSkipsWhenNotEnabled(t *testing.T) {
	f := newFixture(t, false, replyWith(validReply))
	o := NewOrchestrator(f.svc, nil, nil)

	outcomes := f.chat(t, o, 5)
	for _, out := range outcomes {
		assert.Zero(t, out.Count)
		assert.False(t, out.Triggered)
	}
	assert.Zero(t, f.calls.Load())
}

func TestOrchestratorSwallowsAnalysisFailures(t *testing.T) {
	f := newFixture(t, false, func() (string, error) { return "", context.DeadlineExceeded })
	f.enable(t, domain.ModeAuto)
	o := NewOrchestrator(f.svc, nil, nil)

	outcomes := f.chat(t, o, 5)
	last := outcomes[4]
	assert.True(t, last.Triggered)
	assert.Empty(t, last.ProposalID)
	assert.Empty(t, f.revisions(t))
}

func TestOrchestratorAsyncSurvivesCancelledRequest(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionCleaner"))

	f := newFixture(t, true, replyWith(validReply))
	f.enable(t, domain.ModeAuto)
	f.addMessages(t, 10)
	o := NewOrchestrator(f.svc, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		o.Schedule(ctx, Turn{UserID: f.user, ConversationID: f.conv.ID, AgentID: f.agent.ID})
	}
	o.Wait()

	pc, err := f.st.GetPromptCount(context.Background(), f.conv.ID, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, pc.Count)
	assert.EqualValues(t, 1, f.calls.Load())
	assert.Equal(t, "Gopher", f.reloadAgent(t).Name)
}

func TestSharedAgentProposalsStayPrivate(t *testing.T) {
	f := newFixture(t, false, replyWith(validReply))
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"anon_bob", "anon_carol"} {
		require.NoError(t, f.st.UpsertUser(ctx, &domain.User{
			UserID: id, LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
		}))
	}
	_, err := f.st.SeedDefaultAgents(ctx, domain.DefaultAgents())
	require.NoError(t, err)
	agents, err := f.st.ListAgents(ctx, "anon_bob")
	require.NoError(t, err)
	def := agents[0]
	require.True(t, def.IsDefault)

	conv := &domain.Conversation{UserID: "anon_bob", AgentID: def.ID}
	require.NoError(t, f.st.CreateConversation(ctx, conv))
	for i := 0; i < 6; i++ {
		require.NoError(t, f.st.AddMessage(ctx, &domain.Message{
			ConversationID: conv.ID, Content: fmt.Sprintf("bob %d", i), IsUser: i%2 == 0,
		}))
	}

	res, err := f.svc.Analyze(ctx, "anon_bob", def.ID)
	require.NoError(t, err)

	mine, err := f.svc.History(ctx, "anon_bob", def.ID, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	theirs, err := f.svc.History(ctx, f.user, def.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, theirs)

	var sae *SharedAgentError
	for _, user := range []string{"anon_bob", f.user} {
		_, err = f.svc.Apply(ctx, user, def.ID, res.ProposalID)
		assert.True(t, errors.As(err, &sae), "apply as %s: %v", user, err)
	}

	seen, err := f.st.GetAgentForUser(ctx, def.ID, "anon_carol")
	require.NoError(t, err)
	assert.Equal(t, def.Snapshot(), seen.Snapshot())
}

func TestAnalyzeTimesOut(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"), shared.DefaultRetryPolicy())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{st: st, user: "anon_slow"}
	now := time.Now()
	require.NoError(t, st.UpsertUser(ctx, &domain.User{
		UserID: f.user, LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}))
	f.agent = &domain.Agent{UserID: f.user, Name: "Slow", SystemPrompt: "Think."}
	require.NoError(t, st.CreateAgent(ctx, f.agent))
	f.conv = &domain.Conversation{UserID: f.user, AgentID: f.agent.ID}
	require.NoError(t, st.CreateConversation(ctx, f.conv))
	f.addMessages(t, 6)

	blocking := llm.CompleterFunc(func(ctx context.Context, _ llm.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	cfg := config.Default().SelfImprove
	cfg.AnalysisTimeout = 50 * time.Millisecond
	svc := NewService(st, blocking, cfg, nil)

	start := time.Now()
	_, err = svc.Analyze(ctx, f.user, f.agent.ID)
	elapsed := time.Since(start)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe), "got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Empty(t, f.revisions(t))
}
