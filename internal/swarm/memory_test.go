package swarm

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMerge(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(0)

	m.Merge("intro", &Output{
		Content:     "Introduction text",
		Terminology: map[string]string{"LLM": "large language model"},
		Citations:   []string{"smith2020", "doe2019"},
		Decisions:   []string{"use APA style"},
	}, at)
	m.Merge("body", &Output{
		Content:     strings.Repeat("x", 300),
		Terminology: map[string]string{"LLM": "something else", "RAG": "retrieval augmented generation"},
		Citations:   []string{"doe2019"},
	}, at)

	st := m.State()
	assert.Equal(t, "large language model", st.Terminology["LLM"])
	assert.Equal(t, "retrieval augmented generation", st.Terminology["RAG"])
	assert.Equal(t, []string{"doe2019", "smith2020"}, st.Citations)
	assert.Equal(t, "Introduction text", st.Context["intro"])
	assert.Len(t, []rune(st.Context["body"]), 283)
	require.Len(t, st.Decisions, 1)
	assert.Equal(t, Decision{TaskID: "intro", Text: "use APA style", Timestamp: at}, st.Decisions[0])
}

func TestMemoryDecisionLogIsBounded(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(10)
	for i := 0; i < 25; i++ {
		m.AddDecision("t", fmt.Sprintf("d%d", i), at)
	}

	st := m.State()
	require.Len(t, st.Decisions, 10)
	assert.Equal(t, "d15", st.Decisions[0].Text)
	assert.Equal(t, "d24", st.Decisions[9].Text)

	snap := m.Snapshot()
	require.Len(t, snap.Decisions, 5)
	assert.Equal(t, "d20", snap.Decisions[0].Text)
}

func TestMemorySnapshotIsACopy(t *testing.T) {
	m := NewMemory(0)
	m.SetStyle("tone", "formal")
	m.SetContext("brief", "quantum computing")

	snap := m.Snapshot()
	snap.StyleGuide["tone"] = "casual"
	assert.Equal(t, "formal", m.State().StyleGuide["tone"])
	assert.Equal(t, "quantum computing", m.State().Context["brief"])
}

func TestRestoreMemory(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(3)
	m.SetStyle("tone", "formal")
	m.Merge("a", &Output{
		Content:     "alpha",
		Terminology: map[string]string{"k": "v"},
		Citations:   []string{"c1"},
		Decisions:   []string{"1", "2", "3"},
	}, at)

	restored := RestoreMemory(m.State(), 2)
	st := restored.State()
	assert.Equal(t, "formal", st.StyleGuide["tone"])
	assert.Equal(t, map[string]string{"k": "v"}, st.Terminology)
	assert.Equal(t, []string{"c1"}, st.Citations)
	require.Len(t, st.Decisions, 2)
	assert.Equal(t, "2", st.Decisions[0].Text)
}

func TestRubricScore(t *testing.T) {
	r := DefaultRubric()
	assert.InDelta(t, 1.0, r.Score(QualityScores{Coherence: 1, Relevance: 1, Tone: 1, Completeness: 1}), 1e-9)
	assert.InDelta(t, 0.0, r.Score(QualityScores{}), 1e-9)
	// out of range dimensions are clamped
	assert.InDelta(t, 0.5, r.Score(QualityScores{Coherence: 2, Relevance: -1, Tone: 0.5, Completeness: 0.5}), 1e-9)
	assert.InDelta(t, 0.74, r.Score(QualityScores{Coherence: 0.8, Relevance: 0.7, Tone: 0.7, Completeness: 0.75}), 1e-9)
}
