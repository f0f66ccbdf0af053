// Package keypad turns polled key matrix samples into discrete key events
// and maps those events to AGC uplink channel writes.
package keypad

import (
	"fmt"
	"time"

	"github.com/kstaniek/go-pidsky/internal/dsky"
)

// DefaultProDelay is how long after a PRO press the release is synthesized.
const DefaultProDelay = 750 * time.Millisecond

// Kind classifies a key event.
type Kind uint8

const (
	Press Kind = iota + 1
	Release
	ProAutoRelease
)

func (k Kind) String() string {
	switch k {
	case Press:
		return "press"
	case Release:
		return "release"
	case ProAutoRelease:
		return "pro_release"
	}
	return "unknown"
}

// Event is one logical key transition. Key is set for Press.
type Event struct {
	Kind Kind
	Key  byte
}

func (e Event) String() string {
	if e.Kind == Press {
		return fmt.Sprintf("press(%s)", KeyName(e.Key))
	}
	return e.Kind.String()
}

// Debouncer emits at most one Event per Poll. The zero value is not ready;
// use NewDebouncer.
type Debouncer struct {
	last     dsky.Sample
	proDelay time.Duration
	proArmed bool
	proAt    time.Time
}

// NewDebouncer returns an idle debouncer. A non-positive proDelay selects
// DefaultProDelay.
func NewDebouncer(proDelay time.Duration) *Debouncer {
	if proDelay <= 0 {
		proDelay = DefaultProDelay
	}
	return &Debouncer{proDelay: proDelay}
}

// Poll feeds one sample taken at now.
//
// A changed non-zero sample that matches a key yields Press even when
// another key was held; no Release is synthesized in between. Unknown
// patterns only move the baseline. A zero sample after any non-zero one
// yields Release. When nothing else is emitted and the PRO deadline has
// passed, ProAutoRelease is emitted once.
func (d *Debouncer) Poll(s dsky.Sample, now time.Time) (Event, bool) {
	ev, ok := d.edge(s)
	if ok {
		if ev.Kind == Press && ev.Key == KeyPro {
			d.proArmed = true
			d.proAt = now.Add(d.proDelay)
		}
		return ev, true
	}
	if d.proArmed && !now.Before(d.proAt) {
		d.proArmed = false
		return Event{Kind: ProAutoRelease}, true
	}
	return Event{}, false
}

func (d *Debouncer) edge(s dsky.Sample) (Event, bool) {
	if s == d.last {
		return Event{}, false
	}
	prev := d.last
	d.last = s
	if s.IsZero() {
		if !prev.IsZero() {
			return Event{Kind: Release}, true
		}
		return Event{}, false
	}
	if c, ok := Decode(s); ok {
		return Event{Kind: Press, Key: c}, true
	}
	return Event{}, false
}

// Reset returns to idle and disarms the PRO timer.
func (d *Debouncer) Reset() {
	d.last = dsky.Sample{}
	d.proArmed = false
	d.proAt = time.Time{}
}

