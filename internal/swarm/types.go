package swarm

import (
	"time"
)

// ContentType classifies the document a swarm produces
type ContentType string

const (
	ContentEssay         ContentType = "essay"
	ContentResearchPaper ContentType = "research_paper"
	ContentDissertation  ContentType = "dissertation"
	ContentReport        ContentType = "report"
	ContentCaseStudy     ContentType = "case_study"
)

// Strategy selects how a swarm's task graph is executed
type Strategy string

const (
	StrategyParallel      Strategy = "parallel"
	StrategySequential    Strategy = "sequential"
	StrategyCompetitive   Strategy = "competitive"
	StrategyCollaborative Strategy = "collaborative"
	StrategyHierarchical  Strategy = "hierarchical"
)

// Valid reports whether s is a known strategy
func (s Strategy) Valid() bool {
	switch s {
	case StrategyParallel, StrategySequential, StrategyCompetitive,
		StrategyCollaborative, StrategyHierarchical:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a swarm
type Status string

const (
	StatusCreated   Status = "created"
	StatusPlanned   Status = "planned"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Config is the execution profile of one content type
type Config struct {
	Strategy         Strategy      `json:"strategy" mapstructure:"strategy"`
	MaxAgents        int           `json:"max_agents" mapstructure:"max_agents"`
	Timeout          time.Duration `json:"timeout" mapstructure:"timeout"`
	QualityThreshold float64       `json:"quality_threshold" mapstructure:"quality_threshold"`
	ShareMemory      bool          `json:"share_memory" mapstructure:"share_memory"`
	// Competitors is the number of agents racing per task under the competitive strategy
	Competitors int `json:"competitors,omitempty" mapstructure:"competitors"`
}

// DefaultConfigs returns the stock profile per content type
func DefaultConfigs() map[ContentType]Config {
	return map[ContentType]Config{
		ContentEssay: {
			Strategy:         StrategyParallel,
			MaxAgents:        4,
			Timeout:          10 * time.Minute,
			QualityThreshold: 0.7,
			ShareMemory:      true,
		},
		ContentResearchPaper: {
			Strategy:         StrategyCollaborative,
			MaxAgents:        6,
			Timeout:          30 * time.Minute,
			QualityThreshold: 0.8,
			ShareMemory:      true,
		},
		ContentDissertation: {
			Strategy:         StrategyHierarchical,
			MaxAgents:        8,
			Timeout:          time.Hour,
			QualityThreshold: 0.85,
			ShareMemory:      true,
		},
		ContentReport: {
			Strategy:         StrategySequential,
			MaxAgents:        3,
			Timeout:          15 * time.Minute,
			QualityThreshold: 0.75,
		},
		ContentCaseStudy: {
			Strategy:         StrategyCompetitive,
			MaxAgents:        4,
			Timeout:          20 * time.Minute,
			QualityThreshold: 0.75,
			Competitors:      3,
		},
	}
}

// Task is one section of a swarm's pipeline
type Task struct {
	ID           string         `json:"id"`
	SectionType  string         `json:"section_type"`
	AgentType    string         `json:"agent_type"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Requirements map[string]any `json:"requirements,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Optional     bool           `json:"optional,omitempty"`
}

// TaskResult is the accepted output of a task
type TaskResult struct {
	TaskID   string        `json:"task_id"`
	AgentID  string        `json:"agent_id"`
	Provider string        `json:"provider,omitempty"`
	Model    string        `json:"model,omitempty"`
	Content  string        `json:"content"`
	Quality  QualityScores `json:"quality"`
	Score    float64       `json:"score"`
	Insights []string      `json:"insights,omitempty"`
	Cost     float64       `json:"cost"`
	Duration time.Duration `json:"duration"`
	// Attempts counts agent runs spent on the task, including discarded ones
	Attempts int `json:"attempts"`
}

// Result summarises a swarm execution
type Result struct {
	SwarmID  string        `json:"swarm_id"`
	Status   Status        `json:"status"`
	Strategy Strategy      `json:"strategy"`
	Tasks    []*TaskResult `json:"tasks"`
	// BelowThreshold lists tasks whose score missed the quality threshold
	BelowThreshold []string      `json:"below_threshold,omitempty"`
	TotalCost      float64       `json:"total_cost"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
}

// Swarm is the persisted record of one swarm run
type Swarm struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id,omitempty"`
	ContentType  ContentType    `json:"content_type"`
	Requirements map[string]any `json:"requirements,omitempty"`
	Config       Config         `json:"config"`
	Status       Status         `json:"status"`
	Tasks        []*Task        `json:"tasks,omitempty"`
	Memory       MemoryState    `json:"memory"`
	Result       *Result        `json:"result,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
