package sioconn

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/unkn0wn-root/reqforge/internal/errdef"
)

// Engine.IO v4 frame types, one ASCII digit at the head of every frame.
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
)

// Socket.IO v5 packet types, the second digit of message frames.
const (
	socketConnect      = '0'
	socketDisconnect   = '1'
	socketEvent        = '2'
	socketAck          = '3'
	socketConnectError = '4'
)

// Handshake is the JSON body of the Engine.IO open frame.
type Handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// Packet is one decoded Engine.IO frame. Socket, Namespace, AckID and Data
// only carry meaning when Engine is the message type.
type Packet struct {
	Engine    byte
	Socket    byte
	Namespace string
	AckID     int
	HasAck    bool
	Data      string
}

func decodePacket(raw string) (Packet, error) {
	if raw == "" {
		return Packet{}, errdef.New(errdef.CodeValidation, "empty engine.io frame")
	}
	p := Packet{Engine: raw[0], Namespace: "/"}
	rest := raw[1:]
	if p.Engine != engineMessage {
		p.Data = rest
		return p, nil
	}
	if rest == "" {
		return Packet{}, errdef.New(errdef.CodeValidation, "truncated socket.io packet")
	}
	p.Socket = rest[0]
	rest = rest[1:]

	if strings.HasPrefix(rest, "/") {
		if idx := strings.IndexByte(rest, ','); idx >= 0 {
			p.Namespace = rest[:idx]
			rest = rest[idx+1:]
		} else {
			p.Namespace = rest
			rest = ""
		}
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(rest[:digits])
		if err != nil {
			return Packet{}, errdef.Wrap(errdef.CodeValidation, err, "parse ack id")
		}
		p.AckID = id
		p.HasAck = true
		rest = rest[digits:]
	}

	p.Data = rest
	return p, nil
}

func (p Packet) encode() string {
	var b strings.Builder
	b.WriteByte(p.Engine)
	if p.Engine != engineMessage {
		b.WriteString(p.Data)
		return b.String()
	}
	b.WriteByte(p.Socket)
	if p.Namespace != "" && p.Namespace != "/" {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.HasAck {
		b.WriteString(strconv.Itoa(p.AckID))
	}
	b.WriteString(p.Data)
	return b.String()
}

func parseHandshake(data string) (Handshake, error) {
	var hs Handshake
	if err := json.Unmarshal([]byte(data), &hs); err != nil {
		return Handshake{}, errdef.Wrap(errdef.CodeValidation, err, "parse engine.io handshake")
	}
	if hs.SID == "" {
		return Handshake{}, errdef.New(errdef.CodeValidation, "engine.io handshake missing sid")
	}
	return hs, nil
}

// encodeEvent builds the payload of an event packet: a JSON array with the
// event name first and the already-serialized arguments after it.
func encodeEvent(event string, args []json.RawMessage) (string, error) {
	parts := make([]json.RawMessage, 0, len(args)+1)
	name, err := json.Marshal(event)
	if err != nil {
		return "", errdef.Wrap(errdef.CodeEncode, err, "encode event name")
	}
	parts = append(parts, name)
	parts = append(parts, args...)
	data, err := json.Marshal(parts)
	if err != nil {
		return "", errdef.Wrap(errdef.CodeEncode, err, "encode event payload")
	}
	return string(data), nil
}

// decodeEvent splits an event payload into its name and raw argument list.
func decodeEvent(data string) (string, []gjson.Result, error) {
	parsed := gjson.Parse(data)
	if !parsed.IsArray() {
		return "", nil, errdef.New(errdef.CodeValidation, "event payload is not an array")
	}
	items := parsed.Array()
	if len(items) == 0 || items[0].Type != gjson.String {
		return "", nil, errdef.New(errdef.CodeValidation, "event payload missing name")
	}
	return items[0].String(), items[1:], nil
}

// renderArgs applies the log serialization rule: one argument logs as the
// bare value, several log as the array.
func renderArgs(args []gjson.Result) string {
	switch len(args) {
	case 0:
		return ""
	case 1:
		return args[0].Raw
	default:
		raw := make([]string, len(args))
		for i, arg := range args {
			raw[i] = arg.Raw
		}
		return "[" + strings.Join(raw, ",") + "]"
	}
}
