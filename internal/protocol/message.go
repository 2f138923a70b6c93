package protocol

import "github.com/rudransh-shrivastava/peerdrop/internal/store"

type Message interface {
	Type() MessageType
}

// Header holds the routing fields every frame may carry.
type Header struct {
	Type MessageType `json:"type"`
	From string      `json:"from,omitempty"`
	To   string      `json:"to,omitempty"`
}

type JoinRoom struct {
	DeviceID string `json:"deviceId"`
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName,omitempty"`
	Password string `json:"password,omitempty"`
}

func (JoinRoom) Type() MessageType { return MsgJoinRoom }

type LeaveRoom struct {
	DeviceID string `json:"deviceId"`
}

func (LeaveRoom) Type() MessageType { return MsgLeaveRoom }

type DeviceUpdate struct {
	DeviceID   string  `json:"deviceId"`
	Name       *string `json:"name,omitempty"`
	DeviceType *string `json:"deviceType,omitempty"`
	Network    *string `json:"network,omitempty"`
}

func (DeviceUpdate) Type() MessageType { return MsgDeviceUpdate }

type Offer struct {
	From string `json:"from"`
	To   string `json:"to"`
	SDP  string `json:"sdp"`
}

func (Offer) Type() MessageType { return MsgOffer }

type Answer struct {
	From string `json:"from"`
	To   string `json:"to"`
	SDP  string `json:"sdp"`
}

func (Answer) Type() MessageType { return MsgAnswer }

// ICECandidate mirrors the browser RTCIceCandidateInit fields.
type ICECandidate struct {
	From             string  `json:"from"`
	To               string  `json:"to"`
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func (ICECandidate) Type() MessageType { return MsgICECandidate }

type TransferRequest struct {
	From       string `json:"from"`
	To         string `json:"to"`
	RequestID  string `json:"requestId"`
	TransferID int64  `json:"transferId,string,omitempty"`
	FileName   string `json:"fileName,omitempty"`
	FileSize   int64  `json:"fileSize,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
	IsMessage  bool   `json:"isMessage,omitempty"`
}

func (TransferRequest) Type() MessageType { return MsgTransferRequest }

type TransferResponse struct {
	From       string `json:"from"`
	To         string `json:"to"`
	RequestID  string `json:"requestId"`
	TransferID int64  `json:"transferId,string,omitempty"`
	Accepted   bool   `json:"accepted"`
}

func (TransferResponse) Type() MessageType { return MsgTransferResponse }

type TransferProgress struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	RequestID  string  `json:"requestId"`
	TransferID int64   `json:"transferId,string,omitempty"`
	Progress   float64 `json:"progress"`
}

func (TransferProgress) Type() MessageType { return MsgTransferProgress }

type DirectMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Content string `json:"content"`
}

func (DirectMessage) Type() MessageType { return MsgDirectMessage }

// DirectFile carries a whole file through the relay. Content is base64 on
// the wire.
type DirectFile struct {
	From     string `json:"from"`
	To       string `json:"to"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size"`
	Content  []byte `json:"content"`
}

func (DirectFile) Type() MessageType { return MsgDirectFile }

// DeviceListUpdate tells recipients to re-query the device lists.
type DeviceListUpdate struct {
	DeviceID string `json:"deviceId"`
	RoomID   string `json:"roomId,omitempty"`
}

func (DeviceListUpdate) Type() MessageType { return MsgDeviceListUpdate }

type RoomJoined struct {
	RoomID string `json:"roomId"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

func (RoomJoined) Type() MessageType { return MsgRoomJoined }

type RoomLeft struct {
	RoomID string `json:"roomId,omitempty"`
}

func (RoomLeft) Type() MessageType { return MsgRoomLeft }

type RoomDevices struct {
	RoomID  string         `json:"roomId,omitempty"`
	Devices []store.Device `json:"devices,omitempty"`
}

func (RoomDevices) Type() MessageType { return MsgRoomDevices }

type Ping struct {
	DeviceID  string `json:"deviceId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (Ping) Type() MessageType { return MsgPing }
