package session

import (
	"strconv"
	"testing"
)

func TestRingBufferTrimsOldest(t *testing.T) {
	b := newRingBuffer(5)
	for i := 0; i < 8; i++ {
		b.Append(MessageRecord{Text: "m" + strconv.Itoa(i)})
	}
	if b.Len() != 5 {
		t.Fatalf("expected 5 buffered, got %d", b.Len())
	}
	out := b.Drain()
	if out[0].Text != "m3" || out[4].Text != "m7" {
		t.Fatalf("expected window m3..m7, got %s..%s", out[0].Text, out[4].Text)
	}
}

func TestRingBufferDrainEmpties(t *testing.T) {
	b := newRingBuffer(5)
	b.Append(MessageRecord{Text: "one"})
	if got := b.Drain(); len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	got := b.Drain()
	if got == nil || len(got) != 0 {
		t.Fatalf("drained buffer must return empty non-nil slice, got %v", got)
	}
}

func TestRingBufferDefaultLimit(t *testing.T) {
	b := newRingBuffer(0)
	for i := 0; i < 60; i++ {
		b.Append(MessageRecord{Text: strconv.Itoa(i)})
	}
	if b.Len() != 50 {
		t.Fatalf("expected default cap 50, got %d", b.Len())
	}
}

func TestRingBufferBulkAppend(t *testing.T) {
	b := newRingBuffer(3)
	recs := make([]MessageRecord, 5)
	for i := range recs {
		recs[i].Text = strconv.Itoa(i)
	}
	b.Append(recs...)
	out := b.Drain()
	if len(out) != 3 || out[0].Text != "2" {
		t.Fatalf("bulk append window wrong: %v", out)
	}
}
