package keypad

import (
	"testing"
	"time"

	"github.com/kstaniek/go-pidsky/internal/agc"
	"github.com/kstaniek/go-pidsky/internal/dsky"
)

func sample(t *testing.T, c byte) dsky.Sample {
	t.Helper()
	s, ok := Lookup(c)
	if !ok {
		t.Fatalf("no pattern for %q", c)
	}
	return s
}

// feed polls samples at 50 ms intervals from t0 and collects events.
func feed(d *Debouncer, t0 time.Time, samples ...dsky.Sample) []Event {
	var out []Event
	for i, s := range samples {
		if ev, ok := d.Poll(s, t0.Add(time.Duration(i)*50*time.Millisecond)); ok {
			out = append(out, ev)
		}
	}
	return out
}

func TestKeyTableBijective(t *testing.T) {
	seen := map[byte]bool{}
	for i, m := range matrix {
		c, ok := Decode(m)
		if !ok || c != chars[i] {
			t.Fatalf("id %d: decode %q ok=%v", i+1, c, ok)
		}
		if seen[c] {
			t.Fatalf("duplicate key %q", c)
		}
		seen[c] = true
		if back, _ := Lookup(c); back != m {
			t.Fatalf("lookup %q = %v want %v", c, back, m)
		}
	}
	if _, ok := Decode(dsky.Sample{4, 4, 0, 0}); ok {
		t.Fatal("combined pattern must not decode")
	}
}

func TestDebouncePressRelease(t *testing.T) {
	d := NewDebouncer(0)
	a := sample(t, '5')
	got := feed(d, time.Unix(0, 0), dsky.Sample{}, a, a, dsky.Sample{})
	if len(got) != 2 || got[0] != (Event{Kind: Press, Key: '5'}) || got[1].Kind != Release {
		t.Fatalf("got %v", got)
	}
}

func TestDebounceNewKeyWhileHeld(t *testing.T) {
	d := NewDebouncer(0)
	got := feed(d, time.Unix(0, 0), sample(t, '1'), sample(t, '2'), dsky.Sample{})
	want := []Event{{Kind: Press, Key: '1'}, {Kind: Press, Key: '2'}, {Kind: Release}}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestDebounceUnknownPattern(t *testing.T) {
	d := NewDebouncer(0)
	junk := dsky.Sample{0x80, 0, 0, 0}
	got := feed(d, time.Unix(0, 0), junk, junk)
	if len(got) != 0 {
		t.Fatalf("unknown pattern produced %v", got)
	}
	// the baseline moved, so the next known key is a fresh press
	got = feed(d, time.Unix(1, 0), sample(t, 'V'))
	if len(got) != 1 || got[0].Key != 'V' {
		t.Fatalf("got %v", got)
	}
}

func TestProAutoRelease(t *testing.T) {
	d := NewDebouncer(0)
	t0 := time.Unix(100, 0)
	p := sample(t, KeyPro)
	if ev, ok := d.Poll(p, t0); !ok || ev.Key != KeyPro {
		t.Fatalf("press: %v %v", ev, ok)
	}
	var autos int
	for ms := 50; ms <= 1500; ms += 50 {
		ev, ok := d.Poll(dsky.Sample{}, t0.Add(time.Duration(ms)*time.Millisecond))
		if !ok {
			continue
		}
		switch ev.Kind {
		case Release:
			if ms != 50 {
				t.Fatalf("release at %dms", ms)
			}
		case ProAutoRelease:
			autos++
			if ms < 750 {
				t.Fatalf("auto release early at %dms", ms)
			}
		default:
			t.Fatalf("unexpected %v", ev)
		}
	}
	if autos != 1 {
		t.Fatalf("got %d auto releases want 1", autos)
	}
	if d.proArmed {
		t.Fatal("timer still armed")
	}
}

func TestProRearm(t *testing.T) {
	d := NewDebouncer(0)
	t0 := time.Unix(100, 0)
	p := sample(t, KeyPro)
	d.Poll(p, t0)
	d.Poll(dsky.Sample{}, t0.Add(100*time.Millisecond))
	d.Poll(p, t0.Add(500*time.Millisecond)) // re-arm to 1250ms
	d.Poll(dsky.Sample{}, t0.Add(550*time.Millisecond))
	for ms := 600; ms < 1250; ms += 50 {
		if ev, ok := d.Poll(dsky.Sample{}, t0.Add(time.Duration(ms)*time.Millisecond)); ok {
			t.Fatalf("stray %v at %dms", ev, ms)
		}
	}
	ev, ok := d.Poll(dsky.Sample{}, t0.Add(1250*time.Millisecond))
	if !ok || ev.Kind != ProAutoRelease {
		t.Fatalf("got %v %v want pro release", ev, ok)
	}
}

func TestProDeferredByOtherEvent(t *testing.T) {
	d := NewDebouncer(0)
	t0 := time.Unix(0, 0)
	d.Poll(sample(t, KeyPro), t0)
	// a press due on the same tick as the deadline wins; the release follows
	ev, _ := d.Poll(sample(t, '3'), t0.Add(DefaultProDelay))
	if ev.Kind != Press {
		t.Fatalf("got %v", ev)
	}
	ev, ok := d.Poll(sample(t, '3'), t0.Add(DefaultProDelay+50*time.Millisecond))
	if !ok || ev.Kind != ProAutoRelease {
		t.Fatalf("got %v %v", ev, ok)
	}
}

func TestResetDisarms(t *testing.T) {
	d := NewDebouncer(0)
	t0 := time.Unix(0, 0)
	d.Poll(sample(t, KeyPro), t0)
	d.Reset()
	if _, ok := d.Poll(dsky.Sample{}, t0.Add(time.Second)); ok {
		t.Fatal("event after reset")
	}
}

func TestUplinkTable(t *testing.T) {
	cases := []struct {
		key   byte
		value uint16
	}{
		{'0', 0o20}, {'1', 0o1}, {'5', 0o5}, {'7', 0o7}, {'8', 0o10}, {'9', 0o11},
		{'+', 0o32}, {'-', 0o33}, {'V', 0o21}, {'N', 0o37}, {'R', 0o22},
		{'C', 0o36}, {'K', 0o31}, {'\n', 0o34},
	}
	for _, c := range cases {
		u := Uplink(Event{Kind: Press, Key: c.key}, ReleaseNone)
		want := agc.Update{Channel: ChanKeys, Value: c.value, Mask: 0o37, Masked: true}
		if len(u) != 1 || u[0] != want {
			t.Fatalf("%q: got %+v want %+v", c.key, u, want)
		}
	}
}

func TestUplinkPro(t *testing.T) {
	u := Uplink(Event{Kind: Press, Key: KeyPro}, ReleaseNone)
	if len(u) != 1 || u[0] != (agc.Update{Channel: 0o32, Value: 0, Mask: 0o20000, Masked: true}) {
		t.Fatalf("press: %+v", u)
	}
	u = Uplink(Event{Kind: ProAutoRelease}, ReleaseNone)
	if len(u) != 1 || u[0] != (agc.Update{Channel: 0o32, Value: 0o20000, Mask: 0o20000, Masked: true}) {
		t.Fatalf("release: %+v", u)
	}
}

func TestUplinkReleasePolicy(t *testing.T) {
	if u := Uplink(Event{Kind: Release}, ReleaseNone); len(u) != 0 {
		t.Fatalf("none: %+v", u)
	}
	u := Uplink(Event{Kind: Release}, ReleaseKeyRel)
	if len(u) != 1 || u[0] != (agc.Update{Channel: 0o15, Value: 0o31, Mask: 0o37, Masked: true}) {
		t.Fatalf("keyrel: %+v", u)
	}
	if _, err := ParseReleasePolicy("bogus"); err == nil {
		t.Fatal("expected error")
	}
	if p, err := ParseReleasePolicy(""); err != nil || p != ReleaseNone {
		t.Fatalf("default: %v %v", p, err)
	}
}
