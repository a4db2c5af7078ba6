package sioconn

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
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
	defaultSendQueue  = 32
	maxMessageBytes   = 32 << 20
	defaultSocketPath = "/socket.io/"
)

// DialFunc matches websocket.Dial so tests can stand in a fake transport.
type DialFunc func(ctx context.Context, u string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error)

type Options struct {
	HandshakeTimeout time.Duration
	SendQueue        int
}

// EmitArg is one outbound event argument with its declared serialization.
type EmitArg struct {
	Content string
	Format  reqdef.MessageFormat
}

// Manager owns live Socket.IO connections keyed by request id, speaking
// Engine.IO v4 / Socket.IO v5 over a raw WebSocket. It follows the same
// per-request session model as the WebSocket manager with named events
// layered on top.
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
		log:      log.With().Str("component", "sioconn").Logger(),
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

// BuildTargetURL resolves a definition's URL into the Engine.IO websocket
// endpoint: ws/wss scheme, the default /socket.io/ path when none is given,
// EIO and transport query parameters, plus the definition's active params.
func BuildTargetURL(def *reqdef.Definition, env vars.Env) (string, error) {
	raw := vars.Substitute(def.URL, env)
	base, err := normalizeScheme(raw)
	if err != nil {
		return "", err
	}
	target, err := url.Parse(base)
	if err != nil || target.Host == "" {
		return "", errdef.New(errdef.CodeURL, "invalid socket.io url %q", raw)
	}
	if target.Path == "" || target.Path == "/" {
		target.Path = defaultSocketPath
	}

	query := target.Query()
	query.Set("EIO", "4")
	query.Set("transport", "websocket")
	for _, param := range reqdef.ActiveEntries(def.Parameters) {
		query.Add(vars.Substitute(param.Key, env), vars.Substitute(param.Value, env))
	}
	target.RawQuery = query.Encode()

	return target.String(), nil
}

func normalizeScheme(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return "", errdef.New(errdef.CodeURL, "socket.io url is empty")
	case strings.HasPrefix(raw, "ws://"), strings.HasPrefix(raw, "wss://"):
		return raw, nil
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://"), nil
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://"), nil
	case strings.Contains(raw, "://"):
		return "", errdef.New(errdef.CodeURL, "unsupported socket.io scheme in %q", raw)
	default:
		return "ws://" + raw, nil
	}
}

// Connect dials the endpoint and completes both handshakes: the Engine.IO
// open frame, then the Socket.IO namespace connect. An existing connection
// for the same request is forcibly closed first. The definition's listening
// events become the subscription set; everything else is caught by the
// catch-all and each inbound event is logged exactly once either way.
func (m *Manager) Connect(ctx context.Context, def *reqdef.Definition) error {
	if def == nil || def.ID == "" {
		return errdef.New(errdef.CodeValidation, "socket.io definition missing request id")
	}

	env := m.env.Vars()
	target, err := BuildTargetURL(def, env)
	if err != nil {
		return err
	}

	m.dropRuntime(def.ID)

	session := stream.NewSession(ctx, def.ID, stream.KindSocketIO, stream.Config{})
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
		return m.failConnect(session, def.ID, errdef.Wrap(errdef.CodeTransport, err, "dial socket.io %s", target))
	}
	conn.SetReadLimit(maxMessageBytes)

	hs, err := openHandshake(handshakeCtx, conn)
	if err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "handshake failed")
		return m.failConnect(session, def.ID, err)
	}

	listening := make(map[string]struct{})
	for _, name := range reqdef.ListeningEvents(def.Events) {
		listening[name] = struct{}{}
	}

	rt := &runtime{
		requestID: def.ID,
		conn:      conn,
		session:   session,
		writeCh:   make(chan outbound, m.opts.SendQueue),
		listening: listening,
		log:       m.log.With().Str("requestId", def.ID).Logger(),
	}

	m.mu.Lock()
	m.runtimes[def.ID] = rt
	m.mu.Unlock()

	session.MarkConnected()
	session.Append(stream.NewSystem(fmt.Sprintf("connected (sid %s)", hs.SID)))
	m.log.Info().
		Str("requestId", def.ID).
		Str("url", target).
		Str("sid", hs.SID).
		Int("listening", len(listening)).
		Msg("socket.io connected")

	go rt.readLoop(func() { m.forget(def.ID, rt) })
	go rt.writeLoop()
	return nil
}

func (m *Manager) failConnect(session *stream.Session, requestID string, err error) error {
	session.Append(stream.NewError(err.Error()))
	session.Close(err)
	m.log.Warn().Str("requestId", requestID).Err(err).Msg("socket.io connect failed")
	return err
}

// openHandshake drives the connection from raw websocket to a joined
// namespace: read the Engine.IO open frame, send the namespace connect,
// then wait for the server's connect ack.
func openHandshake(ctx context.Context, conn *websocket.Conn) (Handshake, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return Handshake{}, errdef.Wrap(errdef.CodeTransport, err, "read engine.io open frame")
	}
	pkt, err := decodePacket(string(data))
	if err != nil {
		return Handshake{}, err
	}
	if pkt.Engine != engineOpen {
		return Handshake{}, errdef.New(errdef.CodeTransport, "expected engine.io open frame, got %q", pkt.Engine)
	}
	hs, err := parseHandshake(pkt.Data)
	if err != nil {
		return Handshake{}, err
	}

	connect := Packet{Engine: engineMessage, Socket: socketConnect}
	if err := conn.Write(ctx, websocket.MessageText, []byte(connect.encode())); err != nil {
		return Handshake{}, errdef.Wrap(errdef.CodeTransport, err, "send namespace connect")
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return Handshake{}, errdef.Wrap(errdef.CodeTransport, err, "read namespace connect ack")
		}
		pkt, err := decodePacket(string(data))
		if err != nil {
			return Handshake{}, err
		}
		switch {
		case pkt.Engine == enginePing:
			pong := Packet{Engine: enginePong}
			if err := conn.Write(ctx, websocket.MessageText, []byte(pong.encode())); err != nil {
				return Handshake{}, errdef.Wrap(errdef.CodeTransport, err, "send pong")
			}
		case pkt.Engine == engineMessage && pkt.Socket == socketConnect:
			return hs, nil
		case pkt.Engine == engineMessage && pkt.Socket == socketConnectError:
			return Handshake{}, errdef.New(errdef.CodeTransport, "namespace rejected: %s", pkt.Data)
		}
	}
}

// Emit sends a named event with its arguments. Each argument is substituted
// and serialized per its declared format; an invalid json argument blocks
// the emit with a validation error and nothing is logged or transmitted.
// The ack flag requests an acknowledgement id on the wire; the reply is
// logged as a system entry whenever the server delivers it.
func (m *Manager) Emit(ctx context.Context, requestID, eventName string, args []EmitArg, ack bool) error {
	rt := m.runtime(requestID)
	if rt == nil {
		return errdef.New(errdef.CodeValidation, "socket.io %s is not connected", requestID)
	}
	if status, _ := rt.session.Status(); status != stream.StatusConnected {
		return errdef.New(errdef.CodeValidation, "socket.io %s is not connected", requestID)
	}
	if eventName == "" {
		return errdef.New(errdef.CodeValidation, "event name is required")
	}

	env := m.env.Vars()
	serialized := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		raw, err := serializeArg(arg, env)
		if err != nil {
			return err
		}
		serialized = append(serialized, raw)
	}

	payload, err := encodeEvent(vars.Substitute(eventName, env), serialized)
	if err != nil {
		return err
	}

	pkt := Packet{Engine: engineMessage, Socket: socketEvent, Data: payload}
	if ack {
		pkt.AckID = rt.nextAckID()
		pkt.HasAck = true
	}

	content, format := renderSentArgs(serialized)
	entry := stream.NewSent(content, format)
	entry.EventName = vars.Substitute(eventName, env)

	return rt.enqueue(outbound{
		ctx:     ctx,
		kind:    outboundPacket,
		payload: []byte(pkt.encode()),
		entry:   entry,
		result:  make(chan error, 1),
	})
}

func serializeArg(arg EmitArg, env vars.Env) (json.RawMessage, error) {
	resolved := vars.Substitute(arg.Content, env)
	switch arg.Format {
	case reqdef.FormatJSON:
		if !gjson.Valid(resolved) {
			return nil, errdef.New(errdef.CodeValidation, "event argument is not valid json")
		}
		return json.RawMessage(stream.MinifyJSON(resolved)), nil
	case reqdef.FormatBinary:
		if _, err := base64.StdEncoding.DecodeString(resolved); err != nil {
			return nil, errdef.Wrap(errdef.CodeValidation, err, "decode base64 argument")
		}
		// Binary rides as its base64 text form; attachment framing is not
		// part of this transport.
		return json.Marshal(resolved)
	default:
		return json.Marshal(resolved)
	}
}

// renderSentArgs mirrors the receive-side rule: one argument logs bare,
// several log as the array.
func renderSentArgs(args []json.RawMessage) (string, stream.Format) {
	switch len(args) {
	case 0:
		return "", stream.FormatText
	case 1:
		// A bare string argument logs without its JSON quoting.
		if v := gjson.Parse(string(args[0])); v.Type == gjson.String {
			return v.String(), stream.FormatText
		}
		return stream.Render(string(args[0]))
	default:
		joined, err := json.Marshal(args)
		if err != nil {
			return "", stream.FormatText
		}
		return stream.Render(string(joined))
	}
}

// Disconnect leaves the namespace and starts a clean close handshake.
func (m *Manager) Disconnect(ctx context.Context, requestID string) error {
	rt := m.runtime(requestID)
	if rt == nil {
		return nil
	}
	return rt.enqueue(outbound{
		ctx:    ctx,
		kind:   outboundClose,
		result: make(chan error, 1),
	})
}

func (m *Manager) Status(requestID string) stream.Status {
	return m.sessions.Status(requestID, stream.KindSocketIO)
}

func (m *Manager) Messages(requestID string) []*stream.Message {
	return m.sessions.Messages(requestID, stream.KindSocketIO)
}

// ClearMessages empties the log without disturbing the connection.
func (m *Manager) ClearMessages(requestID string) {
	if s := m.sessions.Get(requestID, stream.KindSocketIO); s != nil {
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
