package protocol

// MaxFrameSize bounds a single signaling frame. direct-file frames carry a
// whole payload, so this is generous.
const MaxFrameSize = 32 << 20

type MessageType string

const (
	MsgJoinRoom         MessageType = "join-room"
	MsgLeaveRoom        MessageType = "leave-room"
	MsgDeviceUpdate     MessageType = "device-update"
	MsgOffer            MessageType = "offer"
	MsgAnswer           MessageType = "answer"
	MsgICECandidate     MessageType = "ice-candidate"
	MsgTransferRequest  MessageType = "transfer-request"
	MsgTransferResponse MessageType = "transfer-response"
	MsgTransferProgress MessageType = "transfer-progress"
	MsgDirectMessage    MessageType = "direct-message"
	MsgDirectFile       MessageType = "direct-file"
	MsgDeviceListUpdate MessageType = "device-list-update"
	MsgRoomJoined       MessageType = "room-joined"
	MsgRoomLeft         MessageType = "room-left"
	MsgRoomDevices      MessageType = "room-devices"
	MsgPing             MessageType = "ping"
)

func (t MessageType) String() string {
	return string(t)
}

// Known reports whether t is one of the frame types on the wire.
func (t MessageType) Known() bool {
	switch t {
	case MsgJoinRoom, MsgLeaveRoom, MsgDeviceUpdate,
		MsgOffer, MsgAnswer, MsgICECandidate,
		MsgTransferRequest, MsgTransferResponse, MsgTransferProgress,
		MsgDirectMessage, MsgDirectFile,
		MsgDeviceListUpdate, MsgRoomJoined, MsgRoomLeft, MsgRoomDevices,
		MsgPing:
		return true
	}
	return false
}

// Forwarded reports whether the relay passes t through to its "to" target
// without interpreting it.
func (t MessageType) Forwarded() bool {
	switch t {
	case MsgOffer, MsgAnswer, MsgICECandidate,
		MsgTransferRequest, MsgTransferResponse, MsgTransferProgress,
		MsgDirectMessage, MsgDirectFile:
		return true
	}
	return false
}
