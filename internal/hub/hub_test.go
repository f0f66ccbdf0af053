package hub

import (
	"testing"
	"time"
)

func TestHub_Broadcast_DropDoesNotBlock(t *testing.T) {
	h := New()
	cl := &Client{Out: make(chan []byte, 4), Closed: make(chan struct{})}
	h.Add(cl)
	defer h.Remove(cl)

	// Don't read from cl.Out to simulate slow client
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast([]byte(`{"type":"digit"}`))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	if len(cl.Out) != cap(cl.Out) {
		t.Fatalf("expected client buffer to be full, got len=%d cap=%d", len(cl.Out), cap(cl.Out))
	}
	select {
	case <-cl.Closed:
		t.Fatal("drop policy must not close the client")
	default:
	}
}

func TestHub_Broadcast_DropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow := &Client{Out: make(chan []byte, 1), Closed: make(chan struct{})}
	fast := &Client{Out: make(chan []byte, 16), Closed: make(chan struct{})}
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	for i := 0; i < 10; i++ {
		h.Broadcast([]byte{byte(i)})
	}
	if len(fast.Out) != 10 {
		t.Fatalf("fast client got %d messages want 10", len(fast.Out))
	}
	if len(slow.Out) != 1 {
		t.Fatalf("slow client queue %d want 1", len(slow.Out))
	}
}

func TestHub_Broadcast_KickClosesSlowClient(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	slow := &Client{Out: make(chan []byte, 1), Closed: make(chan struct{})}
	h.Add(slow)
	defer h.Remove(slow)
	h.Broadcast([]byte("a"))
	h.Broadcast([]byte("b"))
	select {
	case <-slow.Closed:
	case <-time.After(time.Second):
		t.Fatal("slow client was not kicked")
	}
}

func TestHub_RemoveIdempotent(t *testing.T) {
	h := New()
	c := h.NewClient()
	if cap(c.Out) != DefaultOutBufSize {
		t.Fatalf("cap %d", cap(c.Out))
	}
	h.Add(c)
	if h.Count() != 1 {
		t.Fatalf("count %d", h.Count())
	}
	h.Remove(c)
	h.Remove(c)
	if h.Count() != 0 {
		t.Fatalf("count %d", h.Count())
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]BackpressurePolicy{"": PolicyDrop, "drop": PolicyDrop, "kick": PolicyKick} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Fatalf("%q: %v %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("block"); err == nil {
		t.Fatal("expected error")
	}
}
