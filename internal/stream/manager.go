package stream

import (
	"sync"
)

// Manager tracks at most one session per requestId per protocol kind.
// Registering a new session for an occupied slot closes the old one first,
// so connect-while-connected follows last-writer-wins. A finished session
// stays registered with its final status and log until the next Register
// for that slot displaces it; Clear is the only other way its log empties.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	hooks    map[string][]CompletionHook
}

// CompletionHook fires once when a session finishes, with its final summary
// and the full log.
type CompletionHook func(summary SessionSummary, messages []*Message)

type SessionSummary struct {
	RequestID string
	Kind      Kind
	Status    Status
	Err       error
	Stats     Stats
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		hooks:    make(map[string][]CompletionHook),
	}
}

func key(requestID string, kind Kind) string {
	return kind.String() + ":" + requestID
}

// Register installs a session and returns the one it displaced, if any. The
// displaced session is already closed when Register returns.
func (m *Manager) Register(s *Session) (displaced *Session) {
	if s == nil {
		return nil
	}
	k := key(s.RequestID(), s.Kind())

	m.mu.Lock()
	displaced = m.sessions[k]
	m.sessions[k] = s
	m.mu.Unlock()

	if displaced != nil {
		displaced.Close(nil)
	}

	go m.watch(k, s)
	return displaced
}

func (m *Manager) watch(k string, s *Session) {
	<-s.Done()

	m.mu.Lock()
	hooks := m.hooks[k]
	delete(m.hooks, k)
	m.mu.Unlock()

	if len(hooks) == 0 {
		return
	}
	summary := m.summarize(s)
	messages := s.Messages()
	for _, hook := range hooks {
		hook(summary, messages)
	}
}

func (m *Manager) summarize(s *Session) SessionSummary {
	status, err := s.Status()
	return SessionSummary{
		RequestID: s.RequestID(),
		Kind:      s.Kind(),
		Status:    status,
		Err:       err,
		Stats:     s.StatsSnapshot(),
	}
}

func (m *Manager) Get(requestID string, kind Kind) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[key(requestID, kind)]
}

// Status reports disconnected for requests with no live session.
func (m *Manager) Status(requestID string, kind Kind) Status {
	s := m.Get(requestID, kind)
	if s == nil {
		return StatusDisconnected
	}
	status, _ := s.Status()
	return status
}

// Messages returns the current log for a request, nil when none exists.
func (m *Manager) Messages(requestID string, kind Kind) []*Message {
	s := m.Get(requestID, kind)
	if s == nil {
		return nil
	}
	return s.Messages()
}

func (m *Manager) List() []SessionSummary {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, m.summarize(s))
	}
	return out
}

// AddCompletionHook registers a hook for a live session. Returns false when
// no session exists for the request.
func (m *Manager) AddCompletionHook(requestID string, kind Kind, hook CompletionHook) bool {
	if hook == nil {
		return false
	}
	k := key(requestID, kind)

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[k]
	if !ok {
		return false
	}
	// A finished session stays registered for reads, but its hooks have
	// already fired (or are firing); refuse instead of orphaning the hook.
	select {
	case <-s.Done():
		return false
	default:
	}
	m.hooks[k] = append(m.hooks[k], hook)
	return true
}

// Cancel closes the session for a request. Returns false when none exists.
func (m *Manager) Cancel(requestID string, kind Kind) bool {
	s := m.Get(requestID, kind)
	if s == nil {
		return false
	}
	s.Close(nil)
	return true
}
