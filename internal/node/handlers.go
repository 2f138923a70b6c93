package node

import (
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/rudransh-shrivastava/peerdrop/internal/protocol"
	"github.com/rudransh-shrivastava/peerdrop/internal/transfer"
)

// handleFrame runs on the signaling read goroutine.
func (c *Client) handleFrame(header protocol.Header, data []byte) {
	msg, err := c.codec.Decode(data)
	if err != nil {
		c.log.WithError(err).WithField("type", header.Type).Warn("Dropped undecodable frame")
		return
	}

	switch m := msg.(type) {
	case protocol.Offer:
		c.handleOffer(m)
	case protocol.Answer:
		if s := c.sessionOrStash(m.From, m); s != nil {
			c.applySignal(s, m)
		}
	case protocol.ICECandidate:
		if s := c.sessionOrStash(m.From, m); s != nil {
			c.applySignal(s, m)
		}
	case protocol.TransferRequest:
		c.handleTransferRequest(m)
	case protocol.TransferResponse:
		c.mu.Lock()
		reply, ok := c.pending[m.RequestID]
		c.mu.Unlock()
		if ok {
			select {
			case reply <- m:
			default:
			}
		}
	case protocol.TransferProgress:
		c.progress(m.From, m.Progress)
	case protocol.DirectMessage:
		c.deliverMessage(transfer.Message{Content: m.Content, From: m.From})
	case protocol.DirectFile:
		if int64(len(m.Content)) != m.Size {
			c.log.WithFields(logrus.Fields{"file": m.FileName, "size": m.Size, "got": len(m.Content)}).Warn("Dropped truncated direct file")
			return
		}
		c.log.WithFields(logrus.Fields{"file": m.FileName, "from": m.From}).Info("Received file through relay")
		c.progress(m.From, 100)
		c.deliverFile(transfer.File{Name: m.FileName, MimeType: m.MimeType, Data: m.Content, From: m.From})
	case protocol.RoomJoined:
		if m.OK {
			c.mu.Lock()
			c.room = m.RoomID
			c.mu.Unlock()
			c.log.WithField("room", m.RoomID).Info("Joined room")
		} else {
			c.log.WithFields(logrus.Fields{"room": m.RoomID, "reason": m.Error}).Warn("Room join rejected")
		}
		if c.opts.OnRoom != nil {
			c.opts.OnRoom(m)
		}
	case protocol.RoomLeft:
		c.mu.Lock()
		c.room = ""
		c.mu.Unlock()
	case protocol.DeviceListUpdate:
		if c.opts.OnDevices != nil {
			c.opts.OnDevices(m)
		}
	case protocol.RoomDevices:
		c.log.WithFields(logrus.Fields{"room": m.RoomID, "devices": len(m.Devices)}).Debug("Room devices")
	case protocol.Ping:
	default:
		c.log.WithField("type", header.Type).Debug("Ignored frame")
	}
}

func (c *Client) applySignal(s *transfer.Session, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Answer:
		if err := s.HandleAnswer(m.SDP); err != nil {
			c.log.WithError(err).WithField("peer", m.From).Warn("Failed to apply answer")
		}
	case protocol.ICECandidate:
		cand := webrtc.ICECandidateInit{
			Candidate:        m.Candidate,
			SDPMid:           m.SDPMid,
			SDPMLineIndex:    m.SDPMLineIndex,
			UsernameFragment: m.UsernameFragment,
		}
		if err := s.HandleCandidate(cand); err != nil {
			c.log.WithError(err).WithField("peer", m.From).Warn("Failed to apply candidate")
		}
	}
}

func (c *Client) handleOffer(m protocol.Offer) {
	if c.opts.RelayOnly {
		return
	}
	s, err := transfer.Accept(c.sessionConfig(m.From), m.SDP)
	if err != nil {
		c.log.WithError(err).WithField("peer", m.From).Warn("Failed to accept offer")
		return
	}
	c.setSession(m.From, s)
}

func (c *Client) handleTransferRequest(req protocol.TransferRequest) {
	accepted := true
	if c.opts.Accept != nil {
		accepted = c.opts.Accept(req)
	}

	c.log.WithFields(logrus.Fields{
		"from":     req.From,
		"file":     req.FileName,
		"accepted": accepted,
	}).Info("Transfer requested")

	resp := protocol.TransferResponse{
		From:       c.id,
		To:         req.From,
		RequestID:  req.RequestID,
		TransferID: req.TransferID,
		Accepted:   accepted,
	}
	if err := c.manager.Send(resp); err != nil {
		c.log.WithError(err).Warn("Failed to answer transfer request")
	}
}
