package session

// ringBuffer holds the most recent inbound messages for one session, trimming
// the oldest entries FIFO once the cap is reached. Not safe for concurrent
// use; callers hold the registry lock.
type ringBuffer struct {
	limit int
	recs  []MessageRecord
}

func newRingBuffer(limit int) *ringBuffer {
	if limit <= 0 {
		limit = 50
	}
	return &ringBuffer{limit: limit}
}

func (b *ringBuffer) Append(recs ...MessageRecord) {
	b.recs = append(b.recs, recs...)
	if over := len(b.recs) - b.limit; over > 0 {
		b.recs = append(b.recs[:0:0], b.recs[over:]...)
	}
}

// Drain returns the buffered records oldest-first and empties the buffer.
func (b *ringBuffer) Drain() []MessageRecord {
	out := b.recs
	b.recs = nil
	if out == nil {
		out = []MessageRecord{}
	}
	return out
}

func (b *ringBuffer) Len() int {
	return len(b.recs)
}
