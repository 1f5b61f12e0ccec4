package fork

import "testing"

func TestRingBufferPushAndDrain(t *testing.T) {
	rb := NewRingBuffer(4)
	for i := 0; i < 3; i++ {
		rb.Push([]byte{byte(i)})
	}

	frames, cursor, missed := rb.DrainFrom(0)
	if len(frames) != 3 {
		t.Fatalf("len(frames) = %d, want 3", len(frames))
	}
	if missed != 0 {
		t.Fatalf("missed = %d, want 0", missed)
	}
	if cursor != 3 {
		t.Fatalf("cursor = %d, want 3", cursor)
	}
}

// TestRingBufferConservation checks property P4: frames read + frames
// dropped + frames still buffered == frames pushed.
func TestRingBufferConservation(t *testing.T) {
	rb := NewRingBuffer(4)
	const pushed = 10
	for i := 0; i < pushed; i++ {
		rb.Push([]byte{byte(i)})
	}

	frames, _, missed := rb.DrainFrom(0)
	dropped := rb.DroppedCount()
	stillBuffered := rb.Depth()

	read := uint64(len(frames))
	if missed != dropped {
		t.Fatalf("missed(%d) != dropped(%d) for a drain starting at cursor 0", missed, dropped)
	}
	if int(read) != stillBuffered {
		t.Fatalf("a full drain should return exactly what's buffered: read=%d buffered=%d", read, stillBuffered)
	}
	if dropped+uint64(stillBuffered) != pushed {
		t.Fatalf("dropped(%d)+buffered(%d) != pushed(%d)", dropped, stillBuffered, pushed)
	}
}

func TestRingBufferDropsOldestOnOverflow(t *testing.T) {
	rb := NewRingBuffer(2)
	rb.Push([]byte("a"))
	rb.Push([]byte("b"))
	rb.Push([]byte("c"))

	frames, _, _ := rb.DrainFrom(0)
	if len(frames) != 2 {
		t.Fatalf("len(frames) = %d, want 2", len(frames))
	}
	if string(frames[0].Payload) != "b" || string(frames[1].Payload) != "c" {
		t.Fatalf("unexpected surviving frames: %+v", frames)
	}
	if rb.DroppedCount() != 1 {
		t.Fatalf("DroppedCount() = %d, want 1", rb.DroppedCount())
	}
}

func TestRingBufferWaitFromUnblocksOnPush(t *testing.T) {
	rb := NewRingBuffer(4)
	done := make(chan struct{})
	var got []Frame
	go func() {
		frames, _, _, _ := rb.WaitFrom(0)
		got = frames
		close(done)
	}()

	rb.Push([]byte("x"))
	<-done
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
}

func TestRingBufferWaitFromUnblocksOnClose(t *testing.T) {
	rb := NewRingBuffer(4)
	done := make(chan struct{})
	var closed bool
	go func() {
		_, _, _, c := rb.WaitFrom(0)
		closed = c
		close(done)
	}()

	rb.Close()
	<-done
	if !closed {
		t.Fatal("expected WaitFrom to report closed")
	}
}
