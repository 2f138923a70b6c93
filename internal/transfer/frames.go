package transfer

import (
	"bytes"
	"errors"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ChunkSize is the size of every file-chunk but the last.
const ChunkSize = 16 * 1024

// UnknownSender is the From of messages that did not parse as a known frame.
const UnknownSender = "unknown"

type FrameType string

const (
	FrameFileStart FrameType = "file-start"
	FrameFileChunk FrameType = "file-chunk"
	FrameFileEnd   FrameType = "file-end"
	FrameMessage   FrameType = "message"
)

var (
	ErrChannelNotReady    = errors.New("transfer: data channel not ready")
	ErrTransferInProgress = errors.New("transfer: a file is already being received")
	ErrNotReceiving       = errors.New("transfer: no file in progress")
	ErrSizeOverflow       = errors.New("transfer: received more bytes than announced")
	ErrShortTransfer      = errors.New("transfer: file ended before all bytes arrived")
	ErrSenderBusy         = errors.New("transfer: a file is already being sent")
)

type FileStart struct {
	Type     FrameType `json:"type"`
	FileName string    `json:"fileName"`
	MimeType string    `json:"mimeType"`
	Size     int64     `json:"size"`
}

type FileEnd struct {
	Type     FrameType `json:"type"`
	FileName string    `json:"fileName"`
}

type MessageFrame struct {
	Type    FrameType `json:"type"`
	Content string    `json:"content"`
	From    string    `json:"from"`
}

// File is a fully received file.
type File struct {
	Name     string
	MimeType string
	Data     []byte
	From     string
}

// Message is a received text message.
type Message struct {
	Content string
	From    string
}

// ChunkCount returns how many file-chunk frames a file of size produces.
func ChunkCount(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + ChunkSize - 1) / ChunkSize)
}

// Channel is the subset of a data channel the file protocol needs. Text
// carries control frames, binary carries chunks.
type Channel interface {
	Send(data []byte) error
	SendText(text string) error
}

func sendFrame(ch Channel, frame interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return ch.SendText(string(data))
}

// parseControl decodes a text payload into one of the known frames. ok is
// false when the payload is not a recognisable frame.
func parseControl(text string) (frame interface{}, ok bool) {
	trimmed := bytes.TrimSpace([]byte(text))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}

	var header struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(trimmed, &header); err != nil {
		return nil, false
	}

	switch header.Type {
	case FrameFileStart:
		var f FileStart
		if err := json.Unmarshal(trimmed, &f); err != nil || f.Size < 0 {
			return nil, false
		}
		return f, true
	case FrameFileEnd:
		var f FileEnd
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return nil, false
		}
		return f, true
	case FrameMessage:
		var f MessageFrame
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return nil, false
		}
		return f, true
	}
	return nil, false
}

func (f File) Size() int64 { return int64(len(f.Data)) }
