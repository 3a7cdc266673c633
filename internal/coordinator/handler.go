package coordinator

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
)

// Result is what a handler returns for a completed task
type Result struct {
	Output json.RawMessage `json:"output,omitempty"`
	// Cost in USD incurred by the call
	Cost float64 `json:"cost,omitempty"`
	// Provider and Model override the agent binding when routing picked another pair
	Provider string  `json:"provider,omitempty"`
	Model    string  `json:"model,omitempty"`
	Quality  float64 `json:"quality,omitempty"`
}

// Handler executes one task on an agent. Any returned error fails the task.
type Handler interface {
	Handle(ctx context.Context, agent *model.AgentInstance, payload json.RawMessage) (*Result, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, agent *model.AgentInstance, payload json.RawMessage) (*Result, error)

func (f HandlerFunc) Handle(ctx context.Context, agent *model.AgentInstance, payload json.RawMessage) (*Result, error) {
	return f(ctx, agent, payload)
}

type registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string]Handler)}
}

func (r *registry) register(agentType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[agentType] = h
}

func (r *registry) get(agentType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[agentType]
	return h, ok
}
