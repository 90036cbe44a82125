package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMissingType = errors.New("message type missing")
)

type envelope struct {
	Type Type `json:"type"`
}

// Encode marshals m and splices its "type" tag in front of the payload.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	tag, err := json.Marshal(envelope{Type: m.Kind()})
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("encode %s: payload is not an object", m.Kind())
	}
	if bytes.Equal(body, []byte("{}")) {
		return tag, nil
	}
	out := make([]byte, 0, len(tag)+len(body))
	out = append(out, tag[:len(tag)-1]...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}

// MustEncode is for messages whose encoding cannot fail.
func MustEncode(m Message) []byte {
	b, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return b
}

func peekType(data []byte) (Type, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("bad json: %w", err)
	}
	if env.Type == "" {
		return "", ErrMissingType
	}
	return env.Type, nil
}

// ParseClient decodes a frame sent by a participant to the server.
func ParseClient(data []byte) (Message, error) {
	t, err := peekType(data)
	if err != nil {
		return nil, err
	}
	var m Message
	switch t {
	case TypeJoinSession:
		m, err = decode[JoinSession](data)
	case TypeLeaveSession:
		m = LeaveSession{}
	case TypeStatusUpdate:
		m, err = decode[StatusUpdate](data)
	case TypeHandRaise:
		m, err = decode[HandRaise](data)
	case TypeChatMessage:
		m, err = decode[ChatSend](data)
	case TypePing:
		m = Ping{}
	case TypeWebRTCOffer, TypeWebRTCAnswer, TypeWebRTCICECandidate:
		m, err = decodeNegotiation(t, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ParseServer decodes a frame sent by the server to a participant.
func ParseServer(data []byte) (Message, error) {
	t, err := peekType(data)
	if err != nil {
		return nil, err
	}
	var m Message
	switch t {
	case TypeConnectionEstablished:
		m, err = decode[ConnectionEstablished](data)
	case TypeParticipantsUpdate:
		m, err = decode[ParticipantsUpdate](data)
	case TypeChatHistory:
		m, err = decode[ChatHistory](data)
	case TypeChatMessage:
		m, err = decode[ChatBroadcast](data)
	case TypeHandRaiseUpdate:
		m, err = decode[HandRaiseUpdate](data)
	case TypeError:
		m, err = decode[Error](data)
	case TypePong:
		m = Pong{}
	case TypeWebRTCOffer, TypeWebRTCAnswer, TypeWebRTCICECandidate:
		m, err = decodeNegotiation(t, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func decode[T Message](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("bad %s payload: %w", v.Kind(), err)
	}
	return v, nil
}

func decodeNegotiation(t Type, data []byte) (Negotiation, error) {
	n := Negotiation{Type: t}
	if err := json.Unmarshal(data, &n); err != nil {
		return n, fmt.Errorf("bad %s payload: %w", t, err)
	}
	n.Type = t
	return n, nil
}
