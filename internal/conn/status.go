package conn

import (
	"sync"
	"time"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

type MessageHandler func(raw []byte)

type StatusHandler func(Status)

// SendFailure is one dropped outbound message.
type SendFailure struct {
	At     time.Time
	Kind   string
	Reason string
}

const failureRingSize = 30

type failureRing struct {
	mu    sync.Mutex
	buf   [failureRingSize]SendFailure
	next  int
	count int
}

func (r *failureRing) add(f SendFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = f
	r.next = (r.next + 1) % failureRingSize
	if r.count < failureRingSize {
		r.count++
	}
}

// snapshot returns entries oldest first.
func (r *failureRing) snapshot() []SendFailure {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SendFailure, 0, r.count)
	start := (r.next - r.count + failureRingSize) % failureRingSize
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%failureRingSize])
	}
	return out
}
