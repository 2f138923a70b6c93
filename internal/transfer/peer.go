package transfer

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

type Handlers struct {
	OnFile     func(File)
	OnMessage  func(Message)
	OnProgress ProgressFunc // receive side
}

// Peer runs the file and message protocol over one channel.
type Peer struct {
	ch       Channel
	localID  string
	remoteID string
	handlers Handlers
	log      *logrus.Entry

	mu      sync.Mutex
	recv    *Receiver
	sending atomic.Bool
}

func NewPeer(ch Channel, localID, remoteID string, handlers Handlers, log *logrus.Entry) *Peer {
	return &Peer{
		ch:       ch,
		localID:  localID,
		remoteID: remoteID,
		handlers: handlers,
		log:      log.WithField("peer", remoteID),
		recv:     NewReceiver(),
	}
}

// HandleMessage dispatches one data channel message.
func (p *Peer) HandleMessage(data []byte, isString bool) {
	if !isString {
		p.handleChunk(data)
		return
	}

	frame, ok := parseControl(string(data))
	if !ok {
		p.deliverMessage(Message{Content: string(data), From: UnknownSender})
		return
	}

	switch f := frame.(type) {
	case FileStart:
		p.mu.Lock()
		err := p.recv.Start(f)
		p.mu.Unlock()
		if err != nil {
			p.log.WithError(err).WithField("file", f.FileName).Warn("Rejected file start")
			return
		}
		p.log.WithFields(logrus.Fields{"file": f.FileName, "size": f.Size}).Info("Receiving file")
		p.progress(0)
	case FileEnd:
		p.mu.Lock()
		file, err := p.recv.End(f)
		p.mu.Unlock()
		if err != nil {
			if errors.Is(err, ErrNotReceiving) {
				p.log.WithField("file", f.FileName).Debug("File end while idle")
				return
			}
			p.log.WithError(err).Warn("Aborted file transfer")
			return
		}
		if file != nil {
			if file.Size() == 0 {
				p.progress(100)
			}
			p.deliverFile(file)
		}
	case MessageFrame:
		p.deliverMessage(Message{Content: f.Content, From: f.From})
	}
}

func (p *Peer) handleChunk(data []byte) {
	p.mu.Lock()
	file, err := p.recv.Chunk(data)
	progress := p.recv.Progress()
	p.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrNotReceiving) {
			p.log.WithField("bytes", len(data)).Debug("Dropped chunk while idle")
			return
		}
		p.log.WithError(err).Warn("Aborted file transfer")
		return
	}
	if file != nil {
		p.progress(100)
		p.deliverFile(file)
		return
	}
	p.progress(progress)
}

// SendFile sends one file. Only one outgoing file is allowed at a time.
func (p *Peer) SendFile(ctx context.Context, name, mimeType string, r io.Reader, size int64, onProgress ProgressFunc) error {
	if !p.sending.CompareAndSwap(false, true) {
		return ErrSenderBusy
	}
	defer p.sending.Store(false)

	p.log.WithFields(logrus.Fields{"file": name, "size": size, "chunks": ChunkCount(size)}).Info("Sending file")
	return SendFile(ctx, p.ch, name, mimeType, r, size, onProgress)
}

func (p *Peer) SendMessage(content string) error {
	return SendMessage(p.ch, content, p.localID)
}

// Close discards any partially received file.
func (p *Peer) Close() {
	p.mu.Lock()
	receiving := p.recv.Receiving()
	p.recv.Abort()
	p.mu.Unlock()
	if receiving {
		p.log.Warn("Channel closed during file transfer")
	}
}

func (p *Peer) progress(v float64) {
	if p.handlers.OnProgress != nil {
		p.handlers.OnProgress(v)
	}
}

func (p *Peer) deliverFile(f *File) {
	f.From = p.remoteID
	p.log.WithFields(logrus.Fields{"file": f.Name, "size": len(f.Data)}).Info("Received file")
	if p.handlers.OnFile != nil {
		p.handlers.OnFile(*f)
	}
}

func (p *Peer) deliverMessage(m Message) {
	if p.handlers.OnMessage != nil {
		p.handlers.OnMessage(m)
	}
}
