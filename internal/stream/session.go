package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type DropPolicy int

const (
	DropNewest DropPolicy = iota
	DropOldest
)

type Config struct {
	ListenerBuffer int
	DropPolicy     DropPolicy
}

func defaultConfig(cfg Config) Config {
	if cfg.ListenerBuffer <= 0 {
		cfg.ListenerBuffer = 64
	}
	switch cfg.DropPolicy {
	case DropNewest, DropOldest:
	default:
		cfg.DropPolicy = DropOldest
	}
	return cfg
}

// Session owns the message log and lifecycle state of one live connection.
// The log is append-only in observation order; only the owning connection
// manager mutates it, everyone else reads snapshots or subscribes.
type Session struct {
	requestID string
	kind      Kind

	ctx    context.Context
	cancel context.CancelFunc

	cfg Config

	mu        sync.RWMutex
	status    Status
	err       error
	messages  []*Message
	listeners map[int]*listener
	nextLID   int

	done     chan struct{}
	doneOnce sync.Once

	stats Stats
}

type Stats struct {
	StartedAt     time.Time
	EndedAt       time.Time
	SentCount     int
	ReceivedCount int
	Dropped       uint64
}

type listener struct {
	ch        chan *Message
	policy    DropPolicy
	closed    int32
	closeOnce sync.Once
}

// Listener couples a live channel with a snapshot of everything that was
// logged before the subscription, so consumers never miss entries.
type Listener struct {
	C        <-chan *Message
	Cancel   func()
	Snapshot Snapshot
}

type Snapshot struct {
	Messages []*Message
	Status   Status
	Err      error
}

func NewSession(parent context.Context, requestID string, kind Kind, cfg Config) *Session {
	cfg = defaultConfig(cfg)
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		requestID: requestID,
		kind:      kind,
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		status:    StatusConnecting,
		listeners: make(map[int]*listener),
		done:      make(chan struct{}),
		stats:     Stats{StartedAt: time.Now()},
	}
}

func (s *Session) RequestID() string        { return s.requestID }
func (s *Session) Kind() Kind               { return s.kind }
func (s *Session) Context() context.Context { return s.ctx }
func (s *Session) Cancel()                  { s.cancel() }
func (s *Session) Done() <-chan struct{}    { return s.done }

func (s *Session) Status() (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, s.err
}

func (s *Session) StatsSnapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Messages returns a copy of the log in insertion order.
func (s *Session) Messages() []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Clear drops the log without touching connection state.
func (s *Session) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
}

func (s *Session) Subscribe() Listener {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextLID
	s.nextLID++
	l := &listener{
		ch:     make(chan *Message, s.cfg.ListenerBuffer),
		policy: s.cfg.DropPolicy,
	}
	s.listeners[id] = l

	snapshot := Snapshot{
		Messages: append([]*Message(nil), s.messages...),
		Status:   s.status,
		Err:      s.err,
	}

	return Listener{
		C: l.ch,
		Cancel: func() {
			s.removeListener(id)
		},
		Snapshot: snapshot,
	}
}

func (s *Session) removeListener(id int) {
	s.mu.Lock()
	l, ok := s.listeners[id]
	if ok {
		delete(s.listeners, id)
	}
	s.mu.Unlock()
	if ok {
		l.close()
	}
}

func (l *listener) close() {
	l.closeOnce.Do(func() {
		atomic.StoreInt32(&l.closed, 1)
		close(l.ch)
	})
}

// Append records a message and fans it out to subscribers. Appends for one
// session serialize through its mutex, which preserves observation order.
func (s *Session) Append(msg *Message) {
	if msg == nil {
		return
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	switch msg.Direction {
	case DirSent:
		s.stats.SentCount++
	case DirReceived:
		s.stats.ReceivedCount++
	}
	listeners := make([]*listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	dropped := 0
	for _, l := range listeners {
		if !l.emit(msg) {
			dropped++
		}
	}
	if dropped > 0 {
		s.mu.Lock()
		s.stats.Dropped += uint64(dropped)
		s.mu.Unlock()
	}
}

func (l *listener) emit(msg *Message) (ok bool) {
	if atomic.LoadInt32(&l.closed) == 1 {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			atomic.StoreInt32(&l.closed, 1)
			ok = false
		}
	}()

	switch l.policy {
	case DropNewest:
		select {
		case l.ch <- msg:
			return true
		default:
			return false
		}
	default: // DropOldest: discard one stale entry to make room
		select {
		case l.ch <- msg:
			return true
		default:
			select {
			case <-l.ch:
			default:
			}
			select {
			case l.ch <- msg:
				return true
			default:
				return false
			}
		}
	}
}

func (s *Session) MarkConnected() {
	s.setStatus(StatusConnected, nil)
}

// Close finishes the session: error closes move to the error status, clean
// closes to disconnected. Listeners are detached either way.
func (s *Session) Close(err error) {
	if err != nil {
		s.setStatus(StatusError, err)
	} else {
		s.setStatus(StatusDisconnected, nil)
	}

	s.cancel()
	s.mu.Lock()
	if s.stats.EndedAt.IsZero() {
		s.stats.EndedAt = time.Now()
	}
	listeners := make([]*listener, 0, len(s.listeners))
	for id, l := range s.listeners {
		listeners = append(listeners, l)
		delete(s.listeners, id)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l.close()
	}
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) setStatus(status Status, err error) {
	s.mu.Lock()
	s.status = status
	if err != nil {
		s.err = err
	} else if status == StatusDisconnected {
		s.err = nil
	}
	s.mu.Unlock()
}

func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}
