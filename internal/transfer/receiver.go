package transfer

import (
	"fmt"
)

type receiverState int

const (
	stateIdle receiverState = iota
	stateReceiving
)

func (s receiverState) String() string {
	if s == stateReceiving {
		return "receiving"
	}
	return "idle"
}

// Receiver reassembles one incoming file at a time.
type Receiver struct {
	state    receiverState
	name     string
	mimeType string
	size     int64
	buf      []byte

	// last file delivered on size; its trailing file-end is expected
	completed string
}

func NewReceiver() *Receiver {
	return &Receiver{}
}

func (r *Receiver) Receiving() bool {
	return r.state == stateReceiving
}

// Progress is the percentage received of the in-flight file.
func (r *Receiver) Progress() float64 {
	if r.state != stateReceiving || r.size == 0 {
		return 0
	}
	return float64(len(r.buf)) / float64(r.size) * 100
}

// Start begins a new file. A start while already receiving is rejected and
// the in-flight file is left untouched.
func (r *Receiver) Start(f FileStart) error {
	if r.state == stateReceiving {
		return fmt.Errorf("%w: %s", ErrTransferInProgress, r.name)
	}
	if f.Size < 0 {
		return fmt.Errorf("invalid file size %d", f.Size)
	}

	r.state = stateReceiving
	r.name = f.FileName
	r.mimeType = f.MimeType
	r.size = f.Size
	// size comes from the peer; grow on append rather than trusting it
	r.buf = make([]byte, 0, min(f.Size, ChunkSize))
	r.completed = ""
	return nil
}

// Chunk appends data. It returns the file once the declared size is
// reached.
func (r *Receiver) Chunk(data []byte) (*File, error) {
	if r.state != stateReceiving {
		return nil, ErrNotReceiving
	}
	if int64(len(r.buf))+int64(len(data)) > r.size {
		name := r.name
		r.reset()
		return nil, fmt.Errorf("%w: %s", ErrSizeOverflow, name)
	}

	r.buf = append(r.buf, data...)
	if int64(len(r.buf)) == r.size {
		return r.finish(), nil
	}
	return nil, nil
}

// End handles file-end. Zero-byte files complete here. An end following a
// file already delivered on size is a no-op.
func (r *Receiver) End(f FileEnd) (*File, error) {
	if r.state != stateReceiving {
		if r.completed != "" && r.completed == f.FileName {
			r.completed = ""
			return nil, nil
		}
		return nil, ErrNotReceiving
	}

	if int64(len(r.buf)) < r.size {
		name, got, want := r.name, len(r.buf), r.size
		r.reset()
		return nil, fmt.Errorf("%w: %s (%d of %d bytes)", ErrShortTransfer, name, got, want)
	}
	file := r.finish()
	r.completed = ""
	return file, nil
}

// Abort discards any partial file.
func (r *Receiver) Abort() {
	r.reset()
	r.completed = ""
}

func (r *Receiver) finish() *File {
	file := &File{Name: r.name, MimeType: r.mimeType, Data: r.buf}
	r.completed = r.name
	r.state = stateIdle
	r.name, r.mimeType, r.size, r.buf = "", "", 0, nil
	return file
}

func (r *Receiver) reset() {
	r.state = stateIdle
	r.name, r.mimeType, r.size, r.buf = "", "", 0, nil
}
