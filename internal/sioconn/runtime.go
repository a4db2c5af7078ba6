package sioconn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"nhooyr.io/websocket"

	"github.com/unkn0wn-root/reqforge/internal/errdef"
	"github.com/unkn0wn-root/reqforge/internal/stream"
)

type outboundKind int

const (
	outboundPacket outboundKind = iota
	outboundPong
	outboundAck
	outboundClose
)

type outbound struct {
	ctx     context.Context
	kind    outboundKind
	payload []byte
	entry   *stream.Message
	result  chan error
}

// runtime pairs one live socket with its session. The read and write loops
// are the only goroutines touching conn; everything else goes through the
// outbound queue. listening holds the explicitly subscribed event names;
// events outside it arrive through the catch-all path but every inbound
// event is decoded and logged exactly once either way.
type runtime struct {
	requestID string
	conn      *websocket.Conn
	session   *stream.Session
	writeCh   chan outbound
	listening map[string]struct{}
	log       zerolog.Logger
	ackSeq    uint32
	once      sync.Once
}

func (rt *runtime) nextAckID() int {
	return int(atomic.AddUint32(&rt.ackSeq, 1))
}

func (rt *runtime) readLoop(done func()) {
	session := rt.session
	ctx := session.Context()
	defer func() {
		rt.shutdown()
		done()
	}()

	for {
		_, data, err := rt.conn.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			switch {
			case errors.As(err, &ce):
				session.Append(stream.NewSystem(closeNotice("server", ce.Code, ce.Reason)))
				session.Close(nil)
			case ctx.Err() != nil:
				session.Close(nil)
			default:
				wrapped := errdef.Wrap(errdef.CodeTransport, err, "read socket.io frame")
				session.Append(stream.NewError(wrapped.Error()))
				session.Close(wrapped)
				rt.log.Warn().Err(err).Msg("socket.io read failed")
			}
			return
		}

		pkt, err := decodePacket(string(data))
		if err != nil {
			rt.log.Warn().Err(err).Str("frame", string(data)).Msg("undecodable frame skipped")
			continue
		}
		rt.handlePacket(pkt)
	}
}

func (rt *runtime) handlePacket(pkt Packet) {
	session := rt.session

	switch pkt.Engine {
	case enginePing:
		rt.post(outbound{kind: outboundPong, payload: []byte(string(enginePong))})
	case engineClose:
		session.Append(stream.NewSystem("server closed the connection"))
		session.Close(nil)
	case engineMessage:
		switch pkt.Socket {
		case socketEvent:
			name, args, err := decodeEvent(pkt.Data)
			if err != nil {
				rt.log.Warn().Err(err).Str("payload", pkt.Data).Msg("unparseable event skipped")
				return
			}
			content, format := renderReceivedArgs(args)
			entry := stream.NewReceived(content, format)
			entry.EventName = name
			session.Append(entry)

			_, subscribed := rt.listening[name]
			rt.log.Debug().Str("event", name).Bool("subscribed", subscribed).Msg("event received")

			if pkt.HasAck {
				ack := Packet{Engine: engineMessage, Socket: socketAck, AckID: pkt.AckID, HasAck: true, Data: "[]"}
				rt.post(outbound{kind: outboundAck, payload: []byte(ack.encode())})
			}
		case socketAck:
			session.Append(stream.NewSystem(fmt.Sprintf("ack %d received: %s", pkt.AckID, pkt.Data)))
		case socketDisconnect:
			session.Append(stream.NewSystem("server left the namespace"))
			session.Close(nil)
		case socketConnectError:
			err := errdef.New(errdef.CodeTransport, "namespace error: %s", pkt.Data)
			session.Append(stream.NewError(err.Error()))
			session.Close(err)
		}
	}
}

// post enqueues protocol housekeeping without blocking the read loop. A full
// queue drops the frame; pings repeat and acks are advisory.
func (rt *runtime) post(msg outbound) {
	select {
	case rt.writeCh <- msg:
	default:
		rt.log.Warn().Msg("outbound queue full, control frame dropped")
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
				wrapped := errdef.Wrap(errdef.CodeTransport, err, "send socket.io frame")
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
	case outboundPacket, outboundPong, outboundAck:
		if err := rt.conn.Write(ctx, websocket.MessageText, msg.payload); err != nil {
			return err
		}
		if msg.entry != nil {
			rt.session.Append(msg.entry)
		}
		return nil
	case outboundClose:
		leave := Packet{Engine: engineMessage, Socket: socketDisconnect}
		if err := rt.conn.Write(ctx, websocket.MessageText, []byte(leave.encode())); err != nil &&
			!errors.Is(err, context.Canceled) {
			return err
		}
		if err := rt.conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil &&
			!errors.Is(err, context.Canceled) {
			return err
		}
		rt.session.Append(stream.NewSystem(closeNotice("client", websocket.StatusNormalClosure, "client disconnect")))
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
		return errdef.New(errdef.CodeValidation, "socket.io %s is not connected", rt.requestID)
	default:
	}

	select {
	case rt.writeCh <- msg:
	case <-msg.ctx.Done():
		return msg.ctx.Err()
	case <-rt.session.Context().Done():
		return errdef.New(errdef.CodeValidation, "socket.io %s is not connected", rt.requestID)
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
		return errdef.New(errdef.CodeValidation, "socket.io %s is not connected", rt.requestID)
	}
}

func (rt *runtime) shutdown() {
	rt.once.Do(func() {
		rt.session.Close(nil)
		_ = rt.conn.Close(websocket.StatusNormalClosure, "")
	})
}

// renderReceivedArgs applies the log serialization rule: one argument logs
// as the bare value, several log as the array.
func renderReceivedArgs(args []gjson.Result) (string, stream.Format) {
	if len(args) == 1 && args[0].Type == gjson.String {
		return args[0].String(), stream.FormatText
	}
	raw := renderArgs(args)
	if raw == "" {
		return "", stream.FormatText
	}
	return stream.Render(raw)
}

func closeNotice(by string, code websocket.StatusCode, reason string) string {
	if reason == "" {
		return fmt.Sprintf("connection closed by %s (code %d)", by, code)
	}
	return fmt.Sprintf("connection closed by %s (code %d): %s", by, code, reason)
}
