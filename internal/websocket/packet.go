package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Engine.IO v4 packet types (first byte of every websocket text frame)
const (
	engineOpen    byte = '0'
	engineClose   byte = '1'
	enginePing    byte = '2'
	enginePong    byte = '3'
	engineMessage byte = '4'
	engineUpgrade byte = '5'
	engineNoop    byte = '6'
)

// Socket.IO v5 packet types (first byte after the engine message byte)
const (
	packetConnect      byte = '0'
	packetDisconnect   byte = '1'
	packetEvent        byte = '2'
	packetAck          byte = '3'
	packetConnectError byte = '4'
	packetBinaryEvent  byte = '5'
	packetBinaryAck    byte = '6'
)

// noAckID marks a packet that carries no acknowledgement id.
const noAckID = -1

// openPayload is the engine handshake sent by the server on every new transport.
type openPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// packet is a decoded Socket.IO packet.
// TECHNICAL DISCOVERY: Data keeps the raw JSON so event arguments can be
// decoded lazily into whatever type the awaiting request expects
type packet struct {
	Type      byte
	Namespace string
	ID        int
	Data      json.RawMessage
}

// encodePacket renders a Socket.IO packet wrapped in an engine message frame.
func encodePacket(p packet) []byte {
	var b bytes.Buffer
	b.WriteByte(engineMessage)
	b.WriteByte(p.Type)
	if p.Namespace != "" && p.Namespace != "/" {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.ID >= 0 {
		b.WriteString(strconv.Itoa(p.ID))
	}
	if len(p.Data) > 0 {
		b.Write(p.Data)
	}
	return b.Bytes()
}

// encodeEvent builds an EVENT packet whose data is [event, args...].
func encodeEvent(namespace string, id int, event string, args ...interface{}) ([]byte, error) {
	list := make([]interface{}, 0, len(args)+1)
	list = append(list, event)
	list = append(list, args...)
	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return encodePacket(packet{Type: packetEvent, Namespace: namespace, ID: id, Data: data}), nil
}

// encodeAck builds an ACK packet answering a server-side request id.
func encodeAck(namespace string, id int, args ...interface{}) ([]byte, error) {
	if args == nil {
		args = []interface{}{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return encodePacket(packet{Type: packetAck, Namespace: namespace, ID: id, Data: data}), nil
}

// decodePacket parses the part of a frame that follows the engine message byte.
func decodePacket(raw []byte) (packet, error) {
	p := packet{ID: noAckID, Namespace: "/"}
	if len(raw) == 0 {
		return p, ErrMalformedPacket
	}

	p.Type = raw[0]
	if p.Type < packetConnect || p.Type > packetBinaryAck {
		return p, fmt.Errorf("%w: unknown packet type %q", ErrMalformedPacket, p.Type)
	}
	if p.Type == packetBinaryEvent || p.Type == packetBinaryAck {
		return p, ErrBinaryUnsupported
	}
	rest := raw[1:]

	if len(rest) > 0 && rest[0] == '/' {
		end := bytes.IndexByte(rest, ',')
		if end < 0 {
			// namespace with no payload, e.g. "1/chat"
			p.Namespace = string(rest)
			return p, nil
		}
		p.Namespace = string(rest[:end])
		rest = rest[end+1:]
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(string(rest[:digits]))
		if err != nil {
			return p, fmt.Errorf("%w: bad ack id: %v", ErrMalformedPacket, err)
		}
		p.ID = id
		rest = rest[digits:]
	}

	if len(rest) > 0 {
		if !json.Valid(rest) {
			return p, fmt.Errorf("%w: invalid payload", ErrMalformedPacket)
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// splitEvent separates an EVENT payload into its name and argument list.
func splitEvent(data json.RawMessage) (string, []json.RawMessage, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		return "", nil, fmt.Errorf("%w: event payload is not an array", ErrMalformedPacket)
	}
	if len(list) == 0 {
		return "", nil, fmt.Errorf("%w: empty event payload", ErrMalformedPacket)
	}
	var name string
	if err := json.Unmarshal(list[0], &name); err != nil {
		return "", nil, fmt.Errorf("%w: event name is not a string", ErrMalformedPacket)
	}
	return name, list[1:], nil
}

// splitAck returns the argument list of an ACK payload.
func splitAck(data json.RawMessage) ([]json.RawMessage, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: ack payload is not an array", ErrMalformedPacket)
	}
	return list, nil
}

// connectErrorMessage extracts the reason from a CONNECT_ERROR payload,
// which is either {"message": "..."} or a bare string.
func connectErrorMessage(data json.RawMessage) string {
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(data))
}
