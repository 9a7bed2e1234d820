package store

import (
	"context"
	"sync"

	"coachwire/pkg/interfaces"
	"coachwire/pkg/types"
)

// Memory keeps everything in process. It backs tests and single-node
// deployments that do not need records to outlive the process.
type Memory struct {
	mu          sync.RWMutex
	sessions    map[string]*types.Session
	turns       map[string][]*types.Turn
	assessments map[string]*types.Assessment
	closed      bool
}

func NewMemory() *Memory {
	return &Memory{
		sessions:    make(map[string]*types.Session),
		turns:       make(map[string][]*types.Turn),
		assessments: make(map[string]*types.Assessment),
	}
}

func (m *Memory) CreateSession(_ context.Context, session *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.sessions[session.ID]; ok {
		return ErrDuplicateSession
	}
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *Memory) GetSession(_ context.Context, sessionID string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *Memory) UpdateSession(_ context.Context, session *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.sessions[session.ID]; !ok {
		return interfaces.ErrSessionNotFound
	}
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *Memory) ListActiveSessions(_ context.Context) ([]*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []*types.Session
	for _, sess := range m.sessions {
		if sess.Status == types.StatusActive {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) AppendTurn(_ context.Context, turn *types.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	cp := *turn
	m.turns[turn.SessionID] = append(m.turns[turn.SessionID], &cp)
	return nil
}

func (m *Memory) GetTurnLog(_ context.Context, sessionID string) ([]*types.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	log := m.turns[sessionID]
	out := make([]*types.Turn, len(log))
	for i, t := range log {
		cp := *t
		out[i] = &cp
	}
	return out, nil
}

func (m *Memory) SaveAssessment(_ context.Context, assessment *types.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	cp := *assessment
	m.assessments[assessment.SessionID] = &cp
	return nil
}

func (m *Memory) GetAssessment(_ context.Context, sessionID string) (*types.Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	a, ok := m.assessments[sessionID]
	if !ok {
		return nil, interfaces.ErrAssessmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) HealthCheck(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
