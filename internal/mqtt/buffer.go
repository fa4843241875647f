package mqtt

import "github.com/rs/zerolog"

// message is a serialized publish held for replay after reconnection.
type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer keeps the newest messages while the broker is away.
// Not safe for concurrent use; the publisher holds its lock.
type ringBuffer struct {
	buf     []message
	head    int // next write position
	count   int
	dropped int // total dropped since creation
	full    bool
	logger  zerolog.Logger
}

func newRingBuffer(capacity int, logger zerolog.Logger) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{buf: make([]message, capacity), logger: logger}
}

// push appends msg, overwriting the oldest entry when full.
func (r *ringBuffer) push(msg message) {
	r.buf[r.head] = msg
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
		return
	}
	r.dropped++
	if !r.full {
		// Once per outage.
		r.logger.Warn().Int("capacity", len(r.buf)).Msg("event buffer full, dropping oldest")
		r.full = true
	}
}

// drain returns the buffered messages oldest first and empties the buffer.
func (r *ringBuffer) drain() []message {
	if r.count == 0 {
		return nil
	}
	out := make([]message, 0, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	r.head, r.count, r.full = 0, 0, false
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
