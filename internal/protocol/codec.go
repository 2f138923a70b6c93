// Package protocol defines the JSON frames exchanged over the signaling
// socket.
package protocol

import (
	"bytes"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	ErrMissingType    = errors.New("protocol: frame has no type")
	ErrUnknownType    = errors.New("protocol: unknown frame type")
)

type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

// Encode marshals msg as a JSON object with its "type" field first.
func (c *Codec) Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Type(), err)
	}
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("failed to encode %s: not an object", msg.Type())
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(msg.Type()) + 12)
	buf.WriteString(`{"type":`)
	typ, _ := json.Marshal(string(msg.Type()))
	buf.Write(typ)
	if rest := bytes.TrimSpace(body[1:]); len(rest) > 1 {
		buf.WriteByte(',')
	}
	buf.Write(body[1:])
	return buf.Bytes(), nil
}

// DecodeHeader reads only the routing fields of data.
func (c *Codec) DecodeHeader(data []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if h.Type == "" {
		return Header{}, ErrMissingType
	}
	return h, nil
}

// Decode returns the typed frame held in data.
func (c *Codec) Decode(data []byte) (Message, error) {
	h, err := c.DecodeHeader(data)
	if err != nil {
		return nil, err
	}

	msg, err := newMessage(h.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return deref(msg), nil
}

func newMessage(t MessageType) (Message, error) {
	switch t {
	case MsgJoinRoom:
		return &JoinRoom{}, nil
	case MsgLeaveRoom:
		return &LeaveRoom{}, nil
	case MsgDeviceUpdate:
		return &DeviceUpdate{}, nil
	case MsgOffer:
		return &Offer{}, nil
	case MsgAnswer:
		return &Answer{}, nil
	case MsgICECandidate:
		return &ICECandidate{}, nil
	case MsgTransferRequest:
		return &TransferRequest{}, nil
	case MsgTransferResponse:
		return &TransferResponse{}, nil
	case MsgTransferProgress:
		return &TransferProgress{}, nil
	case MsgDirectMessage:
		return &DirectMessage{}, nil
	case MsgDirectFile:
		return &DirectFile{}, nil
	case MsgDeviceListUpdate:
		return &DeviceListUpdate{}, nil
	case MsgRoomJoined:
		return &RoomJoined{}, nil
	case MsgRoomLeft:
		return &RoomLeft{}, nil
	case MsgRoomDevices:
		return &RoomDevices{}, nil
	case MsgPing:
		return &Ping{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, string(t))
}

// deref hands callers value types so a type switch reads the same on both
// sides of the codec.
func deref(msg Message) Message {
	switch m := msg.(type) {
	case *JoinRoom:
		return *m
	case *LeaveRoom:
		return *m
	case *DeviceUpdate:
		return *m
	case *Offer:
		return *m
	case *Answer:
		return *m
	case *ICECandidate:
		return *m
	case *TransferRequest:
		return *m
	case *TransferResponse:
		return *m
	case *TransferProgress:
		return *m
	case *DirectMessage:
		return *m
	case *DirectFile:
		return *m
	case *DeviceListUpdate:
		return *m
	case *RoomJoined:
		return *m
	case *RoomLeft:
		return *m
	case *RoomDevices:
		return *m
	case *Ping:
		return *m
	}
	return msg
}
