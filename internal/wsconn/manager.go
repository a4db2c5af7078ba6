package wsconn

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"nhooyr.io/websocket"

	"github.com/unkn0wn-root/reqforge/internal/errdef"
	"github.com/unkn0wn-root/reqforge/internal/reqdef"
	"github.com/unkn0wn-root/reqforge/internal/stream"
	"github.com/unkn0wn-root/reqforge/internal/vars"
)

const (
	defaultSendQueue = 32
	maxMessageBytes  = 32 << 20
)

// DialFunc matches websocket.Dial so tests can stand in a fake transport.
type DialFunc func(ctx context.Context, u string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error)

type Options struct {
	HandshakeTimeout time.Duration
	SendQueue        int
}

// Manager owns live WebSocket connections keyed by request id. At most one
// connection exists per request; connecting again tears the old one down
// first. All log entries flow through the request's stream.Session.
type Manager struct {
	sessions *stream.Manager
	env      vars.Provider
	log      zerolog.Logger
	dial     DialFunc
	opts     Options

	mu       sync.Mutex
	runtimes map[string]*runtime
}

func NewManager(sessions *stream.Manager, env vars.Provider, log zerolog.Logger, opts Options) *Manager {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 30 * time.Second
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = defaultSendQueue
	}
	return &Manager{
		sessions: sessions,
		env:      env,
		log:      log.With().Str("component", "wsconn").Logger(),
		dial:     websocket.Dial,
		opts:     opts,
		runtimes: make(map[string]*runtime),
	}
}

// SetDialFunc overrides the transport dialer. Test hook.
func (m *Manager) SetDialFunc(dial DialFunc) {
	if dial != nil {
		m.dial = dial
	}
}

// Connect opens a WebSocket for the definition. An existing connection for
// the same request is forcibly closed before the new dial starts. Variable
// templates in the URL, query parameters and headers are substituted with
// the current environment; active headers ride on the handshake request.
func (m *Manager) Connect(ctx context.Context, def *reqdef.Definition) error {
	if def == nil || def.ID == "" {
		return errdef.New(errdef.CodeValidation, "websocket definition missing request id")
	}

	env := m.env.Vars()
	target, err := BuildTargetURL(def, env)
	if err != nil {
		return err
	}

	m.dropRuntime(def.ID)

	session := stream.NewSession(ctx, def.ID, stream.KindWebSocket, stream.Config{})
	m.sessions.Register(session)
	session.Append(stream.NewSystem(fmt.Sprintf("connecting to %s", target)))

	header := make(http.Header)
	for _, kv := range reqdef.ActiveEntries(def.Headers) {
		header.Add(vars.Substitute(kv.Key, env), vars.Substitute(kv.Value, env))
	}

	handshakeCtx, cancel := context.WithTimeout(session.Context(), m.opts.HandshakeTimeout)
	defer cancel()

	conn, _, err := m.dial(handshakeCtx, target, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		wrapped := errdef.Wrap(errdef.CodeTransport, err, "dial websocket %s", target)
		session.Append(stream.NewError(wrapped.Error()))
		session.Close(wrapped)
		m.log.Warn().Str("requestId", def.ID).Err(err).Msg("websocket dial failed")
		return wrapped
	}
	conn.SetReadLimit(maxMessageBytes)

	rt := &runtime{
		requestID: def.ID,
		conn:      conn,
		session:   session,
		writeCh:   make(chan outbound, m.opts.SendQueue),
		log:       m.log.With().Str("requestId", def.ID).Logger(),
	}

	m.mu.Lock()
	m.runtimes[def.ID] = rt
	m.mu.Unlock()

	session.MarkConnected()
	session.Append(stream.NewSystem(fmt.Sprintf("connected to %s", target)))
	m.log.Info().Str("requestId", def.ID).Str("url", target).Msg("websocket connected")

	go rt.readLoop(func() { m.forget(def.ID, rt) })
	go rt.writeLoop()
	return nil
}

// Send delivers one message over a connected socket. JSON-format payloads
// are validated first and rejected without touching the log; the wire gets
// the minified document while the log keeps a pretty-printed copy. Binary
// payloads are base64 text decoded into a binary frame.
func (m *Manager) Send(ctx context.Context, requestID, content string, format reqdef.MessageFormat) error {
	rt := m.runtime(requestID)
	if rt == nil {
		return errdef.New(errdef.CodeValidation, "websocket %s is not connected", requestID)
	}
	if status, _ := rt.session.Status(); status != stream.StatusConnected {
		return errdef.New(errdef.CodeValidation, "websocket %s is not connected", requestID)
	}

	resolved := vars.Substitute(content, m.env.Vars())

	var (
		payload []byte
		msgType websocket.MessageType
		entry   *stream.Message
	)
	switch format {
	case reqdef.FormatJSON:
		if !gjson.Valid(resolved) {
			return errdef.New(errdef.CodeValidation, "payload is not valid json")
		}
		pretty, _ := stream.Render(resolved)
		payload = []byte(stream.MinifyJSON(resolved))
		msgType = websocket.MessageText
		entry = stream.NewSent(pretty, stream.FormatJSON)
	case reqdef.FormatBinary:
		decoded, err := base64.StdEncoding.DecodeString(resolved)
		if err != nil {
			return errdef.Wrap(errdef.CodeValidation, err, "decode base64 payload")
		}
		payload = decoded
		msgType = websocket.MessageBinary
		entry = stream.NewSent(resolved, stream.FormatText)
	default:
		payload = []byte(resolved)
		msgType = websocket.MessageText
		entry = stream.NewSent(resolved, stream.FormatText)
	}

	return rt.enqueue(outbound{
		ctx:     ctx,
		kind:    outboundMessage,
		msgType: msgType,
		payload: payload,
		entry:   entry,
		result:  make(chan error, 1),
	})
}

// Disconnect starts a clean close handshake. The disconnected state and the
// closing log entry are produced by the close event itself, not here.
func (m *Manager) Disconnect(ctx context.Context, requestID string) error {
	rt := m.runtime(requestID)
	if rt == nil {
		return nil
	}
	return rt.enqueue(outbound{
		ctx:    ctx,
		kind:   outboundClose,
		code:   websocket.StatusNormalClosure,
		reason: "client disconnect",
		result: make(chan error, 1),
	})
}

func (m *Manager) Status(requestID string) stream.Status {
	return m.sessions.Status(requestID, stream.KindWebSocket)
}

func (m *Manager) Messages(requestID string) []*stream.Message {
	return m.sessions.Messages(requestID, stream.KindWebSocket)
}

// ClearMessages empties the log without disturbing the connection.
func (m *Manager) ClearMessages(requestID string) {
	if s := m.sessions.Get(requestID, stream.KindWebSocket); s != nil {
		s.Clear()
	}
}

func (m *Manager) runtime(requestID string) *runtime {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runtimes[requestID]
}

func (m *Manager) dropRuntime(requestID string) {
	m.mu.Lock()
	rt := m.runtimes[requestID]
	delete(m.runtimes, requestID)
	m.mu.Unlock()

	if rt != nil {
		rt.session.Close(nil)
		_ = rt.conn.Close(websocket.StatusNormalClosure, "superseded")
	}
}

func (m *Manager) forget(requestID string, rt *runtime) {
	m.mu.Lock()
	if m.runtimes[requestID] == rt {
		delete(m.runtimes, requestID)
	}
	m.mu.Unlock()
}

type outboundKind int

const (
	outboundMessage outboundKind = iota
	outboundClose
)

type outbound struct {
	ctx     context.Context
	kind    outboundKind
	msgType websocket.MessageType
	payload []byte
	entry   *stream.Message
	code    websocket.StatusCode
	reason  string
	result  chan error
}

// runtime pairs one live socket with its session. The read and write loops
// are the only goroutines touching conn; everything else goes through the
// outbound queue.
type runtime struct {
	requestID string
	conn      *websocket.Conn
	session   *stream.Session
	writeCh   chan outbound
	log       zerolog.Logger
	once      sync.Once
}

func (rt *runtime) readLoop(done func()) {
	session := rt.session
	ctx := session.Context()
	defer func() {
		rt.shutdown()
		done()
	}()

	for {
		msgType, data, err := rt.conn.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			switch {
			case errors.As(err, &ce):
				session.Append(stream.NewSystem(closeNotice("server", ce.Code, ce.Reason)))
				session.Close(nil)
			case ctx.Err() != nil:
				session.Close(nil)
			default:
				wrapped := errdef.Wrap(errdef.CodeTransport, err, "read websocket message")
				session.Append(stream.NewError(wrapped.Error()))
				session.Close(wrapped)
				rt.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		if msgType == websocket.MessageBinary {
			session.Append(stream.NewReceived(base64.StdEncoding.EncodeToString(data), stream.FormatText))
			continue
		}
		content, format := stream.Render(string(data))
		session.Append(stream.NewReceived(content, format))
	}
}

func (rt *runtime) writeLoop() {
	session := rt.session
	ctx := session.Context()
	defer rt.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-rt.writeCh:
			if !ok {
				return
			}
			err := rt.performWrite(msg)
			if msg.result != nil {
				msg.result <- err
			}
			if err != nil {
				wrapped := errdef.Wrap(errdef.CodeTransport, err, "send websocket frame")
				session.Append(stream.NewError(wrapped.Error()))
				session.Close(wrapped)
				return
			}
			if msg.kind == outboundClose {
				return
			}
		}
	}
}

func (rt *runtime) performWrite(msg outbound) error {
	ctx := msg.ctx
	if ctx == nil {
		ctx = rt.session.Context()
	}

	switch msg.kind {
	case outboundMessage:
		if err := rt.conn.Write(ctx, msg.msgType, msg.payload); err != nil {
			return err
		}
		if msg.entry != nil {
			rt.session.Append(msg.entry)
		}
		return nil
	case outboundClose:
		if err := rt.conn.Close(msg.code, msg.reason); err != nil &&
			!errors.Is(err, context.Canceled) {
			return err
		}
		rt.session.Append(stream.NewSystem(closeNotice("client", msg.code, msg.reason)))
		rt.session.Close(nil)
		return nil
	default:
		return nil
	}
}

func (rt *runtime) enqueue(msg outbound) error {
	if msg.ctx == nil {
		msg.ctx = rt.session.Context()
	}

	select {
	case <-rt.session.Context().Done():
		return errdef.New(errdef.CodeValidation, "websocket %s is not connected", rt.requestID)
	default:
	}

	select {
	case rt.writeCh <- msg:
	case <-msg.ctx.Done():
		return msg.ctx.Err()
	case <-rt.session.Context().Done():
		return errdef.New(errdef.CodeValidation, "websocket %s is not connected", rt.requestID)
	}

	select {
	case err := <-msg.result:
		return err
	case <-msg.ctx.Done():
		return msg.ctx.Err()
	case <-rt.session.Context().Done():
		if msg.kind == outboundClose {
			return nil
		}
		return errdef.New(errdef.CodeValidation, "websocket %s is not connected", rt.requestID)
	}
}

func (rt *runtime) shutdown() {
	rt.once.Do(func() {
		rt.session.Close(nil)
		_ = rt.conn.Close(websocket.StatusNormalClosure, "")
	})
}

func closeNotice(by string, code websocket.StatusCode, reason string) string {
	if reason == "" {
		return fmt.Sprintf("connection closed by %s (code %d)", by, code)
	}
	return fmt.Sprintf("connection closed by %s (code %d): %s", by, code, reason)
}
