package swarm

import (
	"sort"
	"sync"
	"time"
)

const (
	defaultDecisionLog = 50
	// injectedDecisions is how many recent decisions a task sees
	injectedDecisions = 5
)

// Decision is one entry of the shared decision log
type Decision struct {
	TaskID    string    `json:"task_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// MemoryState is the serialisable content of a swarm's shared memory
type MemoryState struct {
	Terminology map[string]string `json:"terminology,omitempty"`
	Citations   []string          `json:"citations,omitempty"`
	StyleGuide  map[string]string `json:"style_guide,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
	Decisions   []Decision        `json:"decisions,omitempty"`
}

// Memory is the blackboard sibling tasks read and merge into. The decision
// log is bounded; the oldest entries are dropped first.
type Memory struct {
	mu           sync.RWMutex
	terminology  map[string]string
	citations    map[string]struct{}
	styleGuide   map[string]string
	context      map[string]string
	decisions    []Decision
	maxDecisions int
}

// NewMemory creates an empty memory keeping at most maxDecisions decisions
func NewMemory(maxDecisions int) *Memory {
	if maxDecisions <= 0 {
		maxDecisions = defaultDecisionLog
	}
	return &Memory{
		terminology:  make(map[string]string),
		citations:    make(map[string]struct{}),
		styleGuide:   make(map[string]string),
		context:      make(map[string]string),
		maxDecisions: maxDecisions,
	}
}

// RestoreMemory rebuilds a memory from a persisted state
func RestoreMemory(st MemoryState, maxDecisions int) *Memory {
	m := NewMemory(maxDecisions)
	for k, v := range st.Terminology {
		m.terminology[k] = v
	}
	for _, c := range st.Citations {
		m.citations[c] = struct{}{}
	}
	for k, v := range st.StyleGuide {
		m.styleGuide[k] = v
	}
	for k, v := range st.Context {
		m.context[k] = v
	}
	for _, d := range st.Decisions {
		m.appendDecision(d)
	}
	return m
}

// SetStyle records a style guide rule
func (m *Memory) SetStyle(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.styleGuide[key] = value
}

// SetContext records a context entry
func (m *Memory) SetContext(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.context[key] = value
}

// AddDecision appends to the decision log
func (m *Memory) AddDecision(taskID, text string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendDecision(Decision{TaskID: taskID, Text: text, Timestamp: at})
}

func (m *Memory) appendDecision(d Decision) {
	m.decisions = append(m.decisions, d)
	if over := len(m.decisions) - m.maxDecisions; over > 0 {
		m.decisions = append([]Decision(nil), m.decisions[over:]...)
	}
}

// Merge folds a task's contributions into the memory. Existing terms keep
// their first definition.
func (m *Memory) Merge(taskID string, out *Output, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for term, def := range out.Terminology {
		if _, ok := m.terminology[term]; !ok {
			m.terminology[term] = def
		}
	}
	for _, c := range out.Citations {
		m.citations[c] = struct{}{}
	}
	for _, d := range out.Decisions {
		m.appendDecision(Decision{TaskID: taskID, Text: d, Timestamp: at})
	}
	if out.Content != "" {
		m.context[taskID] = summary(out.Content)
	}
}

// State returns a copy of the whole memory
func (m *Memory) State() MemoryState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked(len(m.decisions))
}

// Snapshot returns the memory as injected into a task: everything but only
// the most recent decisions
func (m *Memory) Snapshot() MemoryState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked(injectedDecisions)
}

func (m *Memory) stateLocked(decisions int) MemoryState {
	st := MemoryState{
		Terminology: copyMap(m.terminology),
		StyleGuide:  copyMap(m.styleGuide),
		Context:     copyMap(m.context),
	}
	for c := range m.citations {
		st.Citations = append(st.Citations, c)
	}
	sort.Strings(st.Citations)

	start := len(m.decisions) - decisions
	if start < 0 {
		start = 0
	}
	st.Decisions = append([]Decision(nil), m.decisions[start:]...)
	return st
}

func copyMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// summary keeps the head of a section for context injection
func summary(s string) string {
	const limit = 280
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
