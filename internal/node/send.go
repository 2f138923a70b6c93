package node

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rudransh-shrivastava/peerdrop/internal/protocol"
	"github.com/rudransh-shrivastava/peerdrop/internal/store"
	"github.com/rudransh-shrivastava/peerdrop/internal/transfer"
)

// Outgoing is one file to send.
type Outgoing struct {
	Name     string
	MimeType string
	Size     int64
	Content  io.ReadSeeker
	// SelfDestruct, in seconds, is stored on the transfer record.
	SelfDestruct *int
}

// Delivery reports how a payload reached the peer.
type Delivery int

const (
	DeliveredPeer Delivery = iota
	DeliveredRelay
)

func (d Delivery) String() string {
	if d == DeliveredRelay {
		return "relay"
	}
	return "peer"
}

// SendFile asks the peer, then streams over a peer session. When the
// session does not open within the fallback timeout the file goes through
// the relay as a direct-file frame.
func (c *Client) SendFile(ctx context.Context, to string, f Outgoing, onProgress transfer.ProgressFunc) (Delivery, error) {
	if f.Size < 0 {
		return 0, fmt.Errorf("invalid file size %d", f.Size)
	}
	size := f.Size
	record := c.createRecord(ctx, NewTransfer{
		FromDeviceID:      c.id,
		ToDeviceID:        to,
		FileName:          f.Name,
		FileSize:          &size,
		SelfDestructTimer: f.SelfDestruct,
	})

	req := protocol.TransferRequest{
		From:       c.id,
		To:         to,
		RequestID:  uuid.NewString(),
		TransferID: record.id(),
		FileName:   f.Name,
		FileSize:   f.Size,
		MimeType:   f.MimeType,
	}
	if err := c.requestTransfer(ctx, req); err != nil {
		status := store.TransferFailed
		if errors.Is(err, ErrDeclined) {
			status = store.TransferDeclined
		}
		record.finish(ctx, status)
		return 0, err
	}
	record.update(ctx, store.TransferAccepted, nil)

	reporter := c.newReporter(ctx, to, req, record, onProgress)

	if s := c.openSession(ctx, to); s != nil {
		err := s.SendFile(ctx, f.Name, f.MimeType, f.Content, f.Size, reporter.report)
		if err == nil {
			record.finish(ctx, store.TransferCompleted)
			return DeliveredPeer, nil
		}
		if !errors.Is(err, transfer.ErrChannelNotReady) {
			record.finish(ctx, store.TransferFailed)
			return DeliveredPeer, err
		}
		c.log.WithError(err).Warn("Peer channel closed, falling back to relay")
	}

	if !c.fitsRelayFrame(to, f) {
		record.finish(ctx, store.TransferFailed)
		return DeliveredRelay, fmt.Errorf("%w: %s is %d bytes", ErrTooLargeForRelay, f.Name, f.Size)
	}
	if _, err := f.Content.Seek(0, io.SeekStart); err != nil {
		record.finish(ctx, store.TransferFailed)
		return DeliveredRelay, fmt.Errorf("failed to rewind file: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(f.Content, f.Size+1))
	if err != nil {
		record.finish(ctx, store.TransferFailed)
		return DeliveredRelay, fmt.Errorf("failed to read file: %w", err)
	}
	if int64(len(data)) != f.Size {
		record.finish(ctx, store.TransferFailed)
		return DeliveredRelay, fmt.Errorf("file is %d bytes, announced %d: %w", len(data), f.Size, transfer.ErrShortTransfer)
	}

	reporter.begin()
	err = c.manager.Send(protocol.DirectFile{
		From:     c.id,
		To:       to,
		FileName: f.Name,
		MimeType: f.MimeType,
		Size:     f.Size,
		Content:  data,
	})
	if err != nil {
		record.finish(ctx, store.TransferFailed)
		return DeliveredRelay, fmt.Errorf("failed to send file through relay: %w", err)
	}
	reporter.report(100)
	record.finish(ctx, store.TransferCompleted)
	c.log.WithFields(logrus.Fields{"to": to, "file": f.Name}).Info("Sent file through relay")
	return DeliveredRelay, nil
}

// fitsRelayFrame reports whether f, base64 encoded inside a direct-file
// frame, stays within the relay's frame limit.
func (c *Client) fitsRelayFrame(to string, f Outgoing) bool {
	if f.Size > protocol.MaxFrameSize {
		return false
	}
	envelope, err := c.codec.Encode(protocol.DirectFile{
		From:     c.id,
		To:       to,
		FileName: f.Name,
		MimeType: f.MimeType,
		Size:     f.Size,
		Content:  []byte{},
	})
	if err != nil {
		return false
	}
	return int64(len(envelope))+int64(base64.StdEncoding.EncodedLen(int(f.Size))) <= protocol.MaxFrameSize
}

// SendMessage delivers text over a peer session, or through the relay as
// a direct-message frame.
func (c *Client) SendMessage(ctx context.Context, to, content string) (Delivery, error) {
	record := c.createRecord(ctx, NewTransfer{FromDeviceID: c.id, ToDeviceID: to, MessageText: content})

	req := protocol.TransferRequest{
		From:       c.id,
		To:         to,
		RequestID:  uuid.NewString(),
		TransferID: record.id(),
		IsMessage:  true,
	}
	if err := c.requestTransfer(ctx, req); err != nil {
		status := store.TransferFailed
		if errors.Is(err, ErrDeclined) {
			status = store.TransferDeclined
		}
		record.finish(ctx, status)
		return 0, err
	}
	record.update(ctx, store.TransferAccepted, nil)

	if s := c.openSession(ctx, to); s != nil {
		err := s.SendMessage(content)
		if err == nil {
			record.finish(ctx, store.TransferCompleted)
			return DeliveredPeer, nil
		}
		c.log.WithError(err).Warn("Peer message failed, falling back to relay")
	}

	if err := c.manager.Send(protocol.DirectMessage{From: c.id, To: to, Content: content}); err != nil {
		record.finish(ctx, store.TransferFailed)
		return DeliveredRelay, fmt.Errorf("failed to send message through relay: %w", err)
	}
	record.finish(ctx, store.TransferCompleted)
	return DeliveredRelay, nil
}

// openSession reuses an open session or dials a new one, waiting up to
// the fallback timeout. nil means fall back.
func (c *Client) openSession(ctx context.Context, to string) *transfer.Session {
	if c.opts.RelayOnly {
		return nil
	}
	if s := c.session(to); s != nil && s.IsOpen() {
		return s
	}

	s, err := transfer.Dial(c.sessionConfig(to))
	if err != nil {
		c.log.WithError(err).WithField("peer", to).Warn("Failed to start peer session")
		return nil
	}
	c.setSession(to, s)

	waitCtx, cancel := context.WithTimeout(ctx, c.opts.Config.FallbackTimeout)
	defer cancel()
	if err := s.WaitOpen(waitCtx); err != nil {
		c.log.WithError(err).WithField("peer", to).Warn("Peer session did not open, falling back to relay")
		_ = s.Close()
		return nil
	}
	return s
}

// record tracks one transfer row; a zero record (no API) is a no-op.
type record struct {
	c        *Client
	transfer *store.Transfer
}

func (c *Client) createRecord(ctx context.Context, t NewTransfer) *record {
	r := &record{c: c}
	if c.api == nil {
		return r
	}
	created, err := c.api.CreateTransfer(ctx, t)
	if err != nil {
		c.log.WithError(err).Warn("Failed to create transfer record")
		return r
	}
	r.transfer = &created
	return r
}

func (r *record) id() int64 {
	if r.transfer == nil {
		return 0
	}
	return r.transfer.ID
}

func (r *record) update(ctx context.Context, status store.TransferStatus, progress *float64) {
	if r.transfer == nil {
		return
	}
	patch := TransferUpdate{Progress: progress}
	if status != "" {
		patch.Status = &status
	}
	updated, err := r.c.api.UpdateTransfer(ctx, r.transfer.ID, patch)
	if err != nil {
		r.c.log.WithError(err).WithField("transfer", r.transfer.ID).Warn("Failed to update transfer record")
		return
	}
	r.transfer = &updated
}

func (r *record) finish(ctx context.Context, status store.TransferStatus) {
	var progress *float64
	if status == store.TransferCompleted {
		full := 100.0
		progress = &full
	}
	r.update(ctx, status, progress)
}

// reporter forwards progress locally and pushes whole-percent steps to the
// peer and the transfer record.
type reporter struct {
	c      *Client
	ctx    context.Context
	to     string
	req    protocol.TransferRequest
	record *record
	local  transfer.ProgressFunc
	last   int
}

func (c *Client) newReporter(ctx context.Context, to string, req protocol.TransferRequest, rec *record, local transfer.ProgressFunc) *reporter {
	return &reporter{c: c, ctx: ctx, to: to, req: req, record: rec, local: local, last: -1}
}

// begin reports 0 unless progress was already reported, so a fallback
// after a partial peer transfer never moves backwards.
func (r *reporter) begin() {
	if r.last < 0 {
		r.report(0)
	}
}

func (r *reporter) report(p float64) {
	if r.local != nil {
		r.local(p)
	}

	step := int(math.Floor(p))
	if step <= r.last {
		return
	}
	r.last = step

	frame := protocol.TransferProgress{
		From:       r.c.id,
		To:         r.to,
		RequestID:  r.req.RequestID,
		TransferID: r.req.TransferID,
		Progress:   p,
	}
	if err := r.c.manager.Send(frame); err != nil {
		r.c.log.WithError(err).Debug("Failed to send progress")
	}
	if step < 100 {
		value := float64(step)
		r.record.update(r.ctx, "", &value)
	}
}
