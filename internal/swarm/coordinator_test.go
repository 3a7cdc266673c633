package swarm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/bus"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/monitor"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/pool"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/resource"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/store"
)

type recordingSink struct {
	mu   sync.Mutex
	reqs []monitor.AgentRequest
}

func (s *recordingSink) RecordAgentRequest(r monitor.AgentRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, r)
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...)
}

// calls records every runner input, keyed by task ID and mode
type calls struct {
	mu     sync.Mutex
	inputs map[string]*Input
	modes  []Mode
}

func (c *calls) add(a Assignment, in *Input) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inputs == nil {
		c.inputs = make(map[string]*Input)
	}
	c.inputs[in.Task.ID+"@"+string(in.Mode)+"@"+a.Agent.ID] = in
	c.modes = append(c.modes, in.Mode)
}

func (c *calls) find(taskID string, mode Mode) *Input {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, in := range c.inputs {
		if strings.HasPrefix(k, taskID+"@"+string(mode)+"@") {
			return in
		}
	}
	return nil
}

func uniform(v float64) QualityScores {
	return QualityScores{Coherence: v, Relevance: v, Tone: v, Completeness: v}
}

// echoRunner writes "<task> by <agent>" at 0.01 per call
func echoRunner(rec *calls) RunnerFunc {
	return func(ctx context.Context, a Assignment, in *Input) (*Output, error) {
		if rec != nil {
			rec.add(a, in)
		}
		return &Output{
			Content: in.Task.ID + " by " + a.Agent.ID,
			Quality: uniform(0.8),
			Cost:    0.01,
		}, nil
	}
}

type harness struct {
	st   *store.Memory
	pool *pool.Pool
	sink *recordingSink
	pub  *recordingPublisher
	c    *Coordinator
}

func testCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		AcquireTimeout:  500 * time.Millisecond,
		AcquireInterval: 2 * time.Millisecond,
	}
}

func newHarness(t *testing.T, runner Runner, cfg CoordinatorConfig, opts ...Option) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := &harness{
		st:   store.NewMemory(),
		pool: pool.New(logger),
		sink: &recordingSink{},
		pub:  &recordingPublisher{},
	}
	opts = append([]Option{WithSink(h.sink), WithPublisher(h.pub)}, opts...)
	h.c = NewCoordinator(cfg, h.st, h.pool, runner, logger, opts...)
	return h
}

func (h *harness) agents(t *testing.T, agentType string, n, maxConcurrent int, caps ...string) {
	t.Helper()
	for i := 1; i <= n; i++ {
		require.NoError(t, h.pool.Register(&model.AgentInstance{
			ID:            fmt.Sprintf("%s-%d", agentType, i),
			Type:          agentType,
			Provider:      "local",
			Model:         "stub",
			MaxConcurrent: maxConcurrent,
			Capabilities:  caps,
		}))
	}
}

func (h *harness) plan(t *testing.T, id string, ct ContentType, complexity float64, req map[string]any) []*Task {
	t.Helper()
	ctx := context.Background()
	_, err := h.c.CreateSwarm(ctx, id, ct, req)
	require.NoError(t, err)
	tasks, err := h.c.GenerateAdaptivePipeline(ctx, id, complexity, 0, nil)
	require.NoError(t, err)
	return tasks
}

func (h *harness) idle(t *testing.T) {
	t.Helper()
	for _, a := range h.pool.Agents() {
		assert.Zero(t, a.CurrentLoad, a.ID)
	}
}

func resultIDs(res *Result) []string {
	out := make([]string, 0, len(res.Tasks))
	for _, tr := range res.Tasks {
		out = append(out, tr.TaskID)
	}
	return out
}

func TestCreateSwarm(t *testing.T) {
	h := newHarness(t, echoRunner(nil), testCoordinatorConfig())
	ctx := context.Background()

	sw, err := h.c.CreateSwarm(ctx, "s1", ContentResearchPaper, map[string]any{
		"user_id": "u-42",
		"style":   "apa",
		"topic":   "graph databases",
	})
	require.NoError(t, err)
	assert.Equal(t, "u-42", sw.UserID)
	assert.Equal(t, StatusCreated, sw.Status)
	assert.Equal(t, StrategyCollaborative, sw.Config.Strategy)
	assert.Equal(t, 0.8, sw.Config.QualityThreshold)

	mem, ok := h.c.Memory("s1")
	require.True(t, ok)
	assert.Equal(t, "apa", mem.State().StyleGuide["style"])

	_, err = h.c.CreateSwarm(ctx, "s1", ContentEssay, nil)
	assert.ErrorIs(t, err, ErrSwarmExists)

	_, err = h.c.CreateSwarm(ctx, "s2", ContentType("limerick"), nil)
	assert.ErrorIs(t, err, ErrUnknownContentType)

	generated, err := h.c.CreateSwarm(ctx, "", ContentEssay, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)

	_, err = h.c.GetSwarm(ctx, "missing")
	assert.ErrorIs(t, err, ErrSwarmNotFound)
	_, err = h.c.GenerateAdaptivePipeline(ctx, "missing", 5, 0, nil)
	assert.ErrorIs(t, err, ErrSwarmNotFound)
	_, err = h.c.Execute(ctx, "missing")
	assert.ErrorIs(t, err, ErrSwarmNotFound)

	_, err = h.c.Execute(ctx, "s1")
	assert.ErrorIs(t, err, ErrNoPipeline)

	tasks, err := h.c.GenerateAdaptivePipeline(ctx, "s1", 9, 12, []string{FlagCitationCheck})
	require.NoError(t, err)
	stored, err := h.c.GetSwarm(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusPlanned, stored.Status)
	assert.Equal(t, ids(tasks), ids(stored.Tasks))
	assert.Equal(t, "graph databases", stored.Tasks[0].Requirements["topic"])

	assert.Contains(t, h.pub.seen(), bus.TopicSwarm("s1", "created"))
	assert.Contains(t, h.pub.seen(), bus.TopicSwarm("s1", "planned"))
}

func TestExecuteParallel(t *testing.T) {
	rec := &calls{}
	h := newHarness(t, echoRunner(rec), testCoordinatorConfig())
	h.agents(t, AgentWriter, 2, 2)
	h.agents(t, AgentAnalyst, 1, 1)
	h.plan(t, "essay-1", ContentEssay, 5, nil)

	res, err := h.c.Execute(context.Background(), "essay-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, StrategyParallel, res.Strategy)
	assert.Equal(t, []string{"outline", "introduction", "body", "counterarguments", "conclusion"}, resultIDs(res))
	assert.InDelta(t, 0.05, res.TotalCost, 1e-9)
	assert.Empty(t, res.BelowThreshold)

	conclusion := rec.find("conclusion", ModeExecute)
	require.NotNil(t, conclusion)
	assert.True(t, strings.HasPrefix(conclusion.Dependencies["introduction"], "introduction by writer-"))
	assert.Equal(t, "counterarguments by analyst-1", conclusion.Dependencies["counterarguments"])
	require.NotNil(t, conclusion.Memory)
	assert.Contains(t, conclusion.Memory.Context, "outline")

	stored, err := h.c.GetSwarm(context.Background(), "essay-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	require.NotNil(t, stored.Result)
	assert.Len(t, stored.Result.Tasks, 5)
	assert.Len(t, stored.Memory.Context, 5)

	assert.Equal(t, 5, h.sink.len())
	assert.Contains(t, h.pub.seen(), bus.TopicSwarm("essay-1", "completed"))
	h.idle(t)
}

func TestExecuteSequential(t *testing.T) {
	var (
		active, peak atomic.Int32
		mu           sync.Mutex
		order        []string
	)
	runner := RunnerFunc(func(ctx context.Context, a Assignment, in *Input) (*Output, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		assert.Nil(t, in.Memory)
		mu.Lock()
		order = append(order, in.Task.ID)
		mu.Unlock()
		time.Sleep(time.Millisecond)
		return &Output{Content: in.Task.ID, Quality: uniform(0.9), Cost: 0.02}, nil
	})

	h := newHarness(t, runner, testCoordinatorConfig())
	h.agents(t, AgentResearch, 1, 3)
	h.agents(t, AgentAnalyst, 1, 3, "analysis")
	h.agents(t, AgentWriter, 1, 3)
	h.plan(t, "report-1", ContentReport, 5, nil)

	res, err := h.c.Execute(context.Background(), "report-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, []string{"background", "analysis", "findings", "appendix", "recommendations", "executive_summary"}, order)
	assert.InDelta(t, 0.12, res.TotalCost, 1e-9)

	stored, err := h.c.GetSwarm(context.Background(), "report-1")
	require.NoError(t, err)
	assert.Empty(t, stored.Memory.Context)
}

func TestExecuteCompetitive(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, a Assignment, in *Input) (*Output, error) {
		q := 0.6
		if strings.HasSuffix(a.Agent.ID, "-2") {
			q = 0.95
		}
		return &Output{Content: in.Task.ID + " by " + a.Agent.ID, Quality: uniform(q), Cost: 0.01}, nil
	})

	h := newHarness(t, runner, testCoordinatorConfig())
	h.agents(t, AgentResearch, 3, 1)
	h.agents(t, AgentWriter, 3, 1)
	h.agents(t, AgentAnalyst, 3, 1, "analysis")
	h.plan(t, "case-1", ContentCaseStudy, 2, nil)

	res, err := h.c.Execute(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"background", "problem_statement", "analysis", "solution"}, resultIDs(res))
	for _, tr := range res.Tasks {
		assert.True(t, strings.HasSuffix(tr.AgentID, "-2"), tr.AgentID)
		assert.Equal(t, 3, tr.Attempts)
		assert.InDelta(t, 0.95, tr.Score, 1e-9)
	}
	// losing drafts are still paid for
	assert.InDelta(t, 0.12, res.TotalCost, 1e-9)
	assert.Equal(t, 12, h.sink.len())
	h.idle(t)
}

func TestExecuteCompetitiveToleratesFailures(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, a Assignment, in *Input) (*Output, error) {
		if strings.HasSuffix(a.Agent.ID, "-1") {
			return nil, errors.New("provider error")
		}
		return &Output{Content: "ok", Quality: uniform(0.8)}, nil
	})

	h := newHarness(t, runner, testCoordinatorConfig())
	h.agents(t, AgentResearch, 3, 1)
	h.agents(t, AgentWriter, 3, 1)
	h.agents(t, AgentAnalyst, 3, 1, "analysis")
	h.plan(t, "case-2", ContentCaseStudy, 2, nil)

	res, err := h.c.Execute(context.Background(), "case-2")
	require.NoError(t, err)
	for _, tr := range res.Tasks {
		assert.False(t, strings.HasSuffix(tr.AgentID, "-1"), tr.AgentID)
	}
}

func TestExecuteCompetitiveNoResult(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, a Assignment, in *Input) (*Output, error) {
		return nil, errors.New("provider error")
	})

	h := newHarness(t, runner, testCoordinatorConfig())
	h.agents(t, AgentResearch, 2, 1)
	h.plan(t, "case-3", ContentCaseStudy, 2, nil)

	res, err := h.c.Execute(context.Background(), "case-3")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoResult)
	require.NotNil(t, res)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, res.Tasks)

	stored, err := h.c.GetSwarm(context.Background(), "case-3")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Result.Error)
	assert.Contains(t, h.pub.seen(), bus.TopicSwarm("case-3", "failed"))
	h.idle(t)
}

func TestExecuteCollaborative(t *testing.T) {
	rec := &calls{}
	runner := RunnerFunc(func(ctx context.Context, a Assignment, in *Input) (*Output, error) {
		rec.add(a, in)
		coherence := 0.5
		if strings.HasSuffix(a.Agent.ID, "-1") {
			coherence = 0.9
		}
		return &Output{
			Content:     in.Task.ID + " by " + a.Agent.ID,
			Quality:     QualityScores{Coherence: coherence, Relevance: 0.8, Tone: 0.8, Completeness: 0.8},
			Insights:    []string{"insight from " + a.Agent.ID},
			Terminology: map[string]string{a.Agent.ID: in.Task.ID},
			Cost:        0.01,
		}, nil
	})

	h := newHarness(t, runner, testCoordinatorConfig())
	h.agents(t, AgentResearch, 2, 1, "research")
	h.agents(t, AgentWriter, 2, 1)
	h.agents(t, AgentAnalyst, 2, 1, "analysis")
	h.plan(t, "paper-1", ContentResearchPaper, 2, nil)

	res, err := h.c.Execute(context.Background(), "paper-1")
	require.NoError(t, err)
	assert.Equal(t, StrategyCollaborative, res.Strategy)
	assert.Equal(t, []string{"literature_review", "methodology", "results", "discussion", "conclusion", "abstract"}, resultIDs(res))

	for _, tr := range res.Tasks {
		assert.True(t, strings.HasSuffix(tr.AgentID, "-1"), tr.AgentID)
		assert.Equal(t, 2, tr.Attempts)
		agentType := strings.TrimSuffix(tr.AgentID, "-1")
		assert.ElementsMatch(t, []string{"insight from " + agentType + "-1", "insight from " + agentType + "-2"}, tr.Insights)
	}

	discussion := rec.find("discussion", ModeExecute)
	require.NotNil(t, discussion)
	require.NotNil(t, discussion.Memory)
	assert.Contains(t, discussion.Memory.Context, "literature_review")
	assert.IsType(t, MemoryState{}, discussion.Requirements["shared_memory"])

	mem, ok := h.c.Memory("paper-1")
	require.True(t, ok)
	st := mem.State()
	assert.Contains(t, st.Terminology, "writer-1")
	assert.Contains(t, st.Terminology, "writer-2")
	// the accepted draft is the one summarised
	assert.Equal(t, "methodology by writer-1", st.Context["methodology"])
	h.idle(t)
}

func TestCollaborativeSiblingsShareMemory(t *testing.T) {
	rec := &calls{}
	h := newHarness(t, echoRunner(rec), testCoordinatorConfig())
	h.agents(t, AgentResearch, 2, 1, "research")
	h.agents(t, AgentWriter, 2, 1)
	h.agents(t, AgentAnalyst, 2, 1, "analysis")
	h.agents(t, AgentVerifier, 4, 1, FlagPlagiarismCheck, FlagCitationCheck)

	ctx := context.Background()
	_, err := h.c.CreateSwarm(ctx, "paper-checks", ContentResearchPaper, nil)
	require.NoError(t, err)
	_, err = h.c.GenerateAdaptivePipeline(ctx, "paper-checks", 2, 0, []string{FlagPlagiarismCheck, FlagCitationCheck})
	require.NoError(t, err)

	res, err := h.c.Execute(ctx, "paper-checks")
	require.NoError(t, err)
	assert.Equal(t, StrategyCollaborative, res.Strategy)
	ids := resultIDs(res)
	require.Len(t, ids, 8)
	assert.Equal(t, []string{FlagPlagiarismCheck, FlagCitationCheck}, ids[6:])

	plagiarism := rec.find(FlagPlagiarismCheck, ModeExecute)
	citation := rec.find(FlagCitationCheck, ModeExecute)
	require.NotNil(t, plagiarism)
	require.NotNil(t, citation)

	assert.Contains(t, plagiarism.Memory.Context, "abstract")
	assert.NotContains(t, plagiarism.Memory.Context, FlagCitationCheck)
	assert.Contains(t, citation.Memory.Context, FlagPlagiarismCheck, "the later sibling sees the earlier merge")
	h.idle(t)
}

func TestExecuteHierarchical(t *testing.T) {
	rec := &calls{}
	runner := RunnerFunc(func(ctx context.Context, a Assignment, in *Input) (*Output, error) {
		rec.add(a, in)
		out := &Output{Quality: uniform(0.9), Cost: 0.01}
		switch in.Mode {
		case ModePlan:
			assert.Equal(t, AgentLead, a.Agent.Type)
			if in.Task.ID == "analysis" {
				out.Subtasks = []Subtask{
					{ID: "stats", AgentType: AgentAnalyst, Capabilities: []string{"analysis"}},
					{ID: "charts", AgentType: AgentWriter, Instructions: "draw the figures"},
				}
			}
		case ModeSynthesize:
			assert.Equal(t, AgentLead, a.Agent.Type)
			parts := make([]string, 0, len(in.Subtasks))
			for _, s := range in.Subtasks {
				parts = append(parts, s.Content)
			}
			out.Content = strings.Join(parts, "|")
		default:
			out.Content = in.Task.ID + " by " + a.Agent.ID
		}
		return out, nil
	})

	h := newHarness(t, runner, testCoordinatorConfig())
	h.agents(t, AgentLead, 1, 2)
	h.agents(t, AgentResearch, 1, 2, "research")
	h.agents(t, AgentWriter, 2, 2)
	h.agents(t, AgentAnalyst, 1, 2, "analysis")
	h.plan(t, "diss-1", ContentDissertation, 2, nil)

	res, err := h.c.Execute(context.Background(), "diss-1")
	require.NoError(t, err)
	assert.Equal(t, StrategyHierarchical, res.Strategy)
	require.Len(t, res.Tasks, 7)

	results := make(map[string]*TaskResult)
	for _, tr := range res.Tasks {
		results[tr.TaskID] = tr
		assert.Equal(t, "lead-1", tr.AgentID)
	}

	analysis := results["analysis"]
	parts := strings.Split(analysis.Content, "|")
	require.Len(t, parts, 2)
	assert.Equal(t, "analysis/stats by analyst-1", parts[0])
	assert.True(t, strings.HasPrefix(parts[1], "analysis/charts by writer-"), parts[1])
	assert.Equal(t, 4, analysis.Attempts)
	assert.InDelta(t, 0.04, analysis.Cost, 1e-9)

	assert.True(t, strings.HasPrefix(results["methodology"].Content, "methodology/main by writer-"))
	assert.Equal(t, 3, results["methodology"].Attempts)

	charts := rec.find("analysis/charts", ModeExecute)
	require.NotNil(t, charts)
	assert.Equal(t, "draw the figures", charts.Requirements["instructions"])
	assert.Equal(t, "analysis", charts.Requirements["parent_task"])
	assert.Contains(t, charts.Dependencies, "methodology")

	assert.Equal(t, 22, h.sink.len())
	assert.InDelta(t, 0.22, res.TotalCost, 1e-9)
	h.idle(t)
}

func TestHierarchicalWithoutLeadCollaborates(t *testing.T) {
	rec := &calls{}
	h := newHarness(t, echoRunner(rec), testCoordinatorConfig())
	h.agents(t, AgentResearch, 1, 1, "research")
	h.agents(t, AgentWriter, 1, 1)
	h.agents(t, AgentAnalyst, 1, 1, "analysis")
	h.plan(t, "diss-2", ContentDissertation, 2, nil)

	res, err := h.c.Execute(context.Background(), "diss-2")
	require.NoError(t, err)
	assert.Len(t, res.Tasks, 7)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.NotContains(t, rec.modes, ModePlan)
	assert.NotContains(t, rec.modes, ModeSynthesize)
}

func TestExecuteFallsBackToAnotherAgent(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, a Assignment, in *Input) (*Output, error) {
		if a.Agent.ID == "writer-1" {
			return nil, errors.New("model overloaded")
		}
		return &Output{Content: in.Task.ID, Quality: uniform(0.9)}, nil
	})

	// a frozen pool clock makes fresh agents tie, so writer-1 wins on ID
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, runner, testCoordinatorConfig())
	h.pool = pool.New(zaptest.NewLogger(t), pool.WithClock(func() time.Time { return fixed }))
	h.c = NewCoordinator(testCoordinatorConfig(), h.st, h.pool, runner, zaptest.NewLogger(t))
	h.agents(t, AgentWriter, 2, 4)
	h.plan(t, "essay-2", ContentEssay, 2, nil)

	res, err := h.c.Execute(context.Background(), "essay-2")
	require.NoError(t, err)
	require.Len(t, res.Tasks, 4)
	for _, tr := range res.Tasks {
		assert.Equal(t, "writer-2", tr.AgentID)
	}
	assert.Equal(t, 2, res.Tasks[0].Attempts)

	w1, err := h.pool.Get("writer-1")
	require.NoError(t, err)
	assert.Positive(t, w1.Metrics.TotalRequests)
	assert.Less(t, w1.Metrics.SuccessRate, 1.0)
	h.idle(t)
}

func TestExecuteTimeout(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, a Assignment, in *Input) (*Output, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	cfg := testCoordinatorConfig()
	cfg.Profiles = map[ContentType]Config{
		ContentEssay: {Strategy: StrategyParallel, MaxAgents: 2, Timeout: 30 * time.Millisecond, QualityThreshold: 0.5},
	}
	h := newHarness(t, runner, cfg)
	h.agents(t, AgentWriter, 1, 2)
	h.plan(t, "essay-3", ContentEssay, 2, nil)

	start := time.Now()
	res, err := h.c.Execute(context.Background(), "essay-3")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StatusFailed, res.Status)

	stored, err := h.c.GetSwarm(context.Background(), "essay-3")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	h.idle(t)
}

func TestExecuteQualityThreshold(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, a Assignment, in *Input) (*Output, error) {
		q := 0.9
		if in.Task.ID == "body" {
			q = 0.3
		}
		return &Output{Content: in.Task.ID, Quality: uniform(q)}, nil
	})

	h := newHarness(t, runner, testCoordinatorConfig())
	h.agents(t, AgentWriter, 1, 4)
	h.plan(t, "essay-4", ContentEssay, 2, nil)

	res, err := h.c.Execute(context.Background(), "essay-4")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []string{"body"}, res.BelowThreshold)

	stored, err := h.c.GetSwarm(context.Background(), "essay-4")
	require.NoError(t, err)
	assert.Equal(t, []string{"body"}, stored.Result.BelowThreshold)
}

func TestExecuteRestoresMemory(t *testing.T) {
	h := newHarness(t, echoRunner(nil), testCoordinatorConfig())
	h.agents(t, AgentWriter, 1, 4)
	h.plan(t, "essay-5", ContentEssay, 2, map[string]any{"style": "mla"})

	rec := &calls{}
	other := NewCoordinator(testCoordinatorConfig(), h.st, h.pool, echoRunner(rec), zaptest.NewLogger(t))
	_, ok := other.Memory("essay-5")
	assert.False(t, ok)

	_, err := other.Execute(context.Background(), "essay-5")
	require.NoError(t, err)

	outline := rec.find("outline", ModeExecute)
	require.NotNil(t, outline)
	require.NotNil(t, outline.Memory)
	assert.Equal(t, "mla", outline.Memory.StyleGuide["style"])
}

func TestExecuteRoutesThroughResources(t *testing.T) {
	var providers sync.Map
	runner := RunnerFunc(func(ctx context.Context, a Assignment, in *Input) (*Output, error) {
		providers.Store(a.Provider+"/"+a.Model, true)
		return &Output{Content: in.Task.ID, Quality: uniform(0.9), Cost: 0.003}, nil
	})

	logger := zaptest.NewLogger(t)
	h := newHarness(t, runner, testCoordinatorConfig())
	rm, err := resource.New(resource.DefaultConfig(), h.st, []model.ProviderConfig{{
		Name:     "anthropic",
		Priority: 8,
		Models:   map[string]model.ModelSpec{"claude": {CostPer1K: 0.003, Quality: 0.9}},
	}}, logger)
	require.NoError(t, err)
	h.c = NewCoordinator(testCoordinatorConfig(), h.st, h.pool, runner, logger, WithResources(rm), WithSink(h.sink))

	h.agents(t, AgentResearch, 1, 1)
	h.agents(t, AgentAnalyst, 1, 1, "analysis")
	h.agents(t, AgentWriter, 1, 1)
	h.plan(t, "report-2", ContentReport, 2, nil)

	res, err := h.c.Execute(context.Background(), "report-2")
	require.NoError(t, err)
	for _, tr := range res.Tasks {
		assert.Equal(t, "anthropic", tr.Provider)
		assert.Equal(t, "claude", tr.Model)
	}
	_, routed := providers.Load("anthropic/claude")
	assert.True(t, routed)
	_, local := providers.Load("local/stub")
	assert.False(t, local)

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	for _, r := range h.sink.reqs {
		assert.Equal(t, "anthropic", r.Provider)
	}
}

func TestExecuteBudgetRefusal(t *testing.T) {
	var runs atomic.Int32
	runner := RunnerFunc(func(ctx context.Context, a Assignment, in *Input) (*Output, error) {
		runs.Add(1)
		return &Output{Content: "unreachable"}, nil
	})

	logger := zaptest.NewLogger(t)
	st := store.NewMemory()
	p := pool.New(logger)
	rm, err := resource.New(resource.Config{Budget: model.BudgetConfig{PerRequestMax: 0.001}}, st, []model.ProviderConfig{{
		Name:   "openai",
		Models: map[string]model.ModelSpec{"gpt-4o": {CostPer1K: 0.01}},
	}}, logger)
	require.NoError(t, err)

	c := NewCoordinator(testCoordinatorConfig(), st, p, runner, logger, WithResources(rm))
	require.NoError(t, p.Register(&model.AgentInstance{ID: "writer-1", Type: AgentWriter, MaxConcurrent: 1}))
	_, err = c.CreateSwarm(context.Background(), "essay-6", ContentEssay, map[string]any{"user_id": "u1"})
	require.NoError(t, err)
	_, err = c.GenerateAdaptivePipeline(context.Background(), "essay-6", 2, 0, nil)
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), "essay-6")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRouting)
	assert.ErrorIs(t, err, resource.ErrBudgetExceeded)
	assert.Zero(t, runs.Load())

	a, err := p.Get("writer-1")
	require.NoError(t, err)
	assert.Zero(t, a.CurrentLoad)
	assert.Zero(t, a.Metrics.TotalRequests)
}
