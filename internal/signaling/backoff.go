package signaling

import (
	"math"
	"time"
)

const (
	// MaxReconnectAttempts stops automatic reconnection.
	MaxReconnectAttempts = 10
	// HeartbeatInterval is the period of the keepalive ping.
	HeartbeatInterval = 30 * time.Second

	backoffFactor = 1.5
)

// ClientClass selects the reconnect timing profile.
type ClientClass int

const (
	ClassDesktop ClientClass = iota
	ClassMobile
)

func (c ClientClass) String() string {
	if c == ClassMobile {
		return "mobile"
	}
	return "desktop"
}

// ClassFromDeviceType maps a device type to its timing profile. Tablets
// share the mobile profile.
func ClassFromDeviceType(deviceType string) ClientClass {
	switch deviceType {
	case "mobile", "tablet":
		return ClassMobile
	}
	return ClassDesktop
}

type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

func BackoffFor(class ClientClass) Backoff {
	if class == ClassMobile {
		return Backoff{Base: 500 * time.Millisecond, Cap: 3 * time.Second}
	}
	return Backoff{Base: time.Second, Cap: 10 * time.Second}
}

// ReconnectDelay returns min(base*1.5^attempt, cap) for the class. The bool
// is false once attempt reaches MaxReconnectAttempts.
func ReconnectDelay(attempt int, class ClientClass) (time.Duration, bool) {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= MaxReconnectAttempts {
		return 0, false
	}

	b := BackoffFor(class)
	delay := float64(b.Base) * math.Pow(backoffFactor, float64(attempt))
	if delay > float64(b.Cap) {
		return b.Cap, true
	}
	return time.Duration(delay), true
}
