package pollstore

import (
	"encoding/json"
	"time"
)

type entry struct {
	ts   int64
	body []byte
}

// ring is a fixed-capacity FIFO that overwrites its oldest entry.
type ring struct {
	buf  []entry
	head int // index of the oldest entry
	n    int

	lastTS  int64
	touched time.Time
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]entry, capacity)}
}

func (r *ring) push(e entry) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = e
		r.n++
		return
	}
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
}

// since returns entries newer than ts. Timestamps increase from head onwards.
func (r *ring) since(ts int64) []json.RawMessage {
	out := make([]json.RawMessage, 0, r.n)
	for i := 0; i < r.n; i++ {
		e := r.buf[(r.head+i)%len(r.buf)]
		if e.ts > ts {
			out = append(out, e.body)
		}
	}
	return out
}
