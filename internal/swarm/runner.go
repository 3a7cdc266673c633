package swarm

import (
	"context"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
)

// Mode tells a runner what a call is for
type Mode string

const (
	// ModeExecute produces a section
	ModeExecute Mode = "execute"
	// ModePlan asks a lead agent to split a section into specialist subtasks
	ModePlan Mode = "plan"
	// ModeSynthesize asks a lead agent to merge specialist outputs
	ModeSynthesize Mode = "synthesize"
)

// Assignment binds a run to an agent and the routed provider/model
type Assignment struct {
	Agent    *model.AgentInstance
	Provider string
	Model    string
}

// Subtask is one specialist unit of a lead agent's plan
type Subtask struct {
	ID           string   `json:"id"`
	AgentType    string   `json:"agent_type,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

// SubtaskOutput is a finished specialist subtask handed to synthesis
type SubtaskOutput struct {
	Subtask Subtask `json:"subtask"`
	Content string  `json:"content"`
}

// Input is everything a runner receives for one call
type Input struct {
	SwarmID      string         `json:"swarm_id"`
	ContentType  ContentType    `json:"content_type"`
	Task         *Task          `json:"task"`
	Mode         Mode           `json:"mode"`
	Requirements map[string]any `json:"requirements,omitempty"`
	// Dependencies maps each dependency task ID to its accepted content
	Dependencies map[string]string `json:"dependencies,omitempty"`
	// Memory is set when the strategy injects shared memory
	Memory   *MemoryState    `json:"memory,omitempty"`
	Subtasks []SubtaskOutput `json:"subtasks,omitempty"`
}

// Output is what a runner returns
type Output struct {
	Content     string            `json:"content"`
	Quality     QualityScores     `json:"quality"`
	Insights    []string          `json:"insights,omitempty"`
	Terminology map[string]string `json:"terminology,omitempty"`
	Citations   []string          `json:"citations,omitempty"`
	Decisions   []string          `json:"decisions,omitempty"`
	// Subtasks is the plan returned in ModePlan
	Subtasks []Subtask `json:"subtasks,omitempty"`
	Cost     float64   `json:"cost"`
}

// Runner performs one agent call. It is supplied by the embedding application.
type Runner interface {
	Run(ctx context.Context, a Assignment, in *Input) (*Output, error)
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, a Assignment, in *Input) (*Output, error)

func (f RunnerFunc) Run(ctx context.Context, a Assignment, in *Input) (*Output, error) {
	return f(ctx, a, in)
}
