package relay

import "sync"

// Client is one live signaling socket as seen by the relay loop.
type Client struct {
	// DeviceID and Network are owned by the relay loop.
	DeviceID string
	Network  string

	remote    string
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(remote string, outbox int) *Client {
	return &Client{
		Network: NetworkTag(remote),
		remote:  remote,
		out:     make(chan []byte, outbox),
		done:    make(chan struct{}),
	}
}

// Send queues frame for the writer goroutine. It never blocks; a full or
// closed outbox drops the frame and reports false.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.out <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) RemoteAddr() string {
	return c.remote
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
