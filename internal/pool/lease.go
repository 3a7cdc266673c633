package pool

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
)

// Lease is a held load slot on an agent. Done must be called exactly once;
// later calls are ignored.
type Lease struct {
	Agent  *model.AgentInstance
	TaskID string

	pool    *Pool
	started time.Time
	once    sync.Once
}

func newLease(p *Pool, agent *model.AgentInstance, taskID string, started time.Time) *Lease {
	return &Lease{Agent: agent, TaskID: taskID, pool: p, started: started}
}

// Elapsed returns the time since the slot was acquired
func (l *Lease) Elapsed() time.Duration {
	return l.pool.now().Sub(l.started)
}

// Done releases the slot, recording a failure when err is non-nil
func (l *Lease) Done(err error, cost float64) {
	l.once.Do(func() {
		elapsed := l.Elapsed()
		if relErr := l.pool.Release(l.Agent.ID, l.TaskID, err == nil, elapsed, cost); relErr != nil {
			l.pool.logger.Error("Failed to release agent",
				zap.String("agent_id", l.Agent.ID),
				zap.String("task_id", l.TaskID),
				zap.Error(relErr))
		}
	})
}

// Abort returns the slot without touching agent metrics or the breaker
// outcome, for work that never reached the agent.
func (l *Lease) Abort() {
	l.once.Do(func() {
		if err := l.pool.abort(l.Agent.ID, l.TaskID); err != nil {
			l.pool.logger.Error("Failed to abort agent lease",
				zap.String("agent_id", l.Agent.ID),
				zap.String("task_id", l.TaskID),
				zap.Error(err))
		}
	})
}
