// ABOUTME: Tests for the decoded-frame ring
// ABOUTME: Verifies bounded occupancy, FIFO order, and drop-newest overflow policy
package ring

import (
	"testing"

	"github.com/pixelstream/opusfeed/internal/pcm"
)

func TestBoundedRingInvariant(t *testing.T) {
	r := New(4, 2)
	for i := 0; i < 10; i++ {
		r.PushBack(pcm.Frame{int16(i), int16(i)})
		if r.Size() < 0 || r.Size() > r.Cap() {
			t.Fatalf("invariant violated: size=%d cap=%d", r.Size(), r.Cap())
		}
	}
	if r.Size() != 4 {
		t.Fatalf("expected ring to be full at 4, got %d", r.Size())
	}
}

func TestOverflowDropsNewest(t *testing.T) {
	r := New(2, 1)
	r.PushBack(pcm.Frame{1})
	r.PushBack(pcm.Frame{2})

	ok := r.PushBack(pcm.Frame{3})
	if ok {
		t.Fatal("expected push to fail when ring is full")
	}

	first, _ := r.PopFront()
	second, _ := r.PopFront()
	if first[0] != 1 || second[0] != 2 {
		t.Fatalf("expected [1 2] preserved (newest dropped), got [%v %v]", first, second)
	}
}

func TestFIFOOrder(t *testing.T) {
	r := New(8, 1)
	for i := 0; i < 5; i++ {
		r.PushBack(pcm.Frame{int16(i)})
	}
	for i := 0; i < 5; i++ {
		frame, ok := r.PopFront()
		if !ok || frame[0] != int16(i) {
			t.Fatalf("expected frame %d, got %v", i, frame)
		}
	}
}

func TestPopFrontEmpty(t *testing.T) {
	r := New(4, 1)
	if _, ok := r.PopFront(); ok {
		t.Fatal("expected PopFront on empty ring to report not-ok")
	}
}

func TestPoppedFrameSurvivesFutureWraparound(t *testing.T) {
	r := New(2, 1)
	r.PushBack(pcm.Frame{1})
	popped, _ := r.PopFront()

	// Refill past the point where the freed slot gets reused.
	r.PushBack(pcm.Frame{2})
	r.PushBack(pcm.Frame{3})

	if popped[0] != 1 {
		t.Fatalf("expected previously popped frame to remain [1], got %v", popped)
	}
}
