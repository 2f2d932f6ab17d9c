package invoker

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentflow-go/internal/domain/agent"
)

// AgentReadWriter is the slice of the record store the memory log needs.
type AgentReadWriter interface {
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	UpdateAgent(ctx context.Context, id string, update agent.Update) error
}

// MemoryLog appends to an agent's durable conversation history. Appends for
// one agent are serialized within this process; writers in other processes
// are not coordinated.
type MemoryLog struct {
	store AgentReadWriter

	mu    sync.Mutex
	locks map[string]*agentLock
}

type agentLock struct {
	sync.Mutex
	refs int
}

func NewMemoryLog(store AgentReadWriter) *MemoryLog {
	return &MemoryLog{
		store: store,
		locks: make(map[string]*agentLock),
	}
}

// Append re-reads the agent and persists its history with entries added at
// the end.
func (m *MemoryLog) Append(ctx context.Context, agentID string, entries ...agent.ConversationEntry) error {
	unlock := m.lock(agentID)
	defer unlock()

	a, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("failed to load agent memory: %w", err)
	}

	history := make([]agent.ConversationEntry, 0, len(a.Memory.ConversationHistory)+len(entries))
	history = append(history, a.Memory.ConversationHistory...)
	history = append(history, entries...)
	memory := agent.Memory{ConversationHistory: history}

	if err := m.store.UpdateAgent(ctx, agentID, agent.Update{Memory: &memory}); err != nil {
		return fmt.Errorf("failed to persist agent memory: %w", err)
	}
	return nil
}

func (m *MemoryLog) lock(agentID string) func() {
	m.mu.Lock()
	l, ok := m.locks[agentID]
	if !ok {
		l = &agentLock{}
		m.locks[agentID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, agentID)
		}
		m.mu.Unlock()
	}
}

// pending reports how many agents currently hold or wait for a lock.
func (m *MemoryLog) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
