package keypad

import (
	"fmt"

	"github.com/kstaniek/go-pidsky/internal/agc"
)

// Uplink channels.
const (
	ChanKeys = 0o15
	ChanPro  = 0o32
)

const (
	keyMask = 0o37
	proBit  = 0o20000
)

// ReleasePolicy selects what a plain key Release sends to the AGC.
type ReleasePolicy string

const (
	// ReleaseNone sends nothing; the DSKY keys are edge triggered.
	ReleaseNone ReleasePolicy = "none"
	// ReleaseKeyRel sends a KEY REL keycode on every release.
	ReleaseKeyRel ReleasePolicy = "keyrel"
)

// ParseReleasePolicy validates a policy name.
func ParseReleasePolicy(s string) (ReleasePolicy, error) {
	switch ReleasePolicy(s) {
	case ReleaseNone, ReleaseKeyRel:
		return ReleasePolicy(s), nil
	case "":
		return ReleaseNone, nil
	}
	return "", fmt.Errorf("unknown release policy %q (want none|keyrel)", s)
}

// keycodes are the channel 015 values of the keypad keys.
var keycodes = map[byte]uint16{
	'0': 0o20, '1': 0o1, '2': 0o2, '3': 0o3, '4': 0o4,
	'5': 0o5, '6': 0o6, '7': 0o7, '8': 0o10, '9': 0o11,
	KeyPlus:   0o32,
	KeyMinus:  0o33,
	KeyVerb:   0o21,
	KeyNoun:   0o37,
	KeyReset:  0o22,
	KeyClear:  0o36,
	KeyKeyRel: 0o31,
	KeyEnter:  0o34,
}

// Keycode returns the channel 015 value for c.
func Keycode(c byte) (uint16, bool) {
	v, ok := keycodes[c]
	return v, ok
}

// Uplink maps an event to the channel writes it causes. Unknown keys map to
// nothing.
func Uplink(ev Event, policy ReleasePolicy) []agc.Update {
	switch ev.Kind {
	case Press:
		if ev.Key == KeyPro {
			return []agc.Update{{Channel: ChanPro, Value: 0, Mask: proBit, Masked: true}}
		}
		if v, ok := keycodes[ev.Key]; ok {
			return []agc.Update{{Channel: ChanKeys, Value: v, Mask: keyMask, Masked: true}}
		}
	case ProAutoRelease:
		return []agc.Update{{Channel: ChanPro, Value: proBit, Mask: proBit, Masked: true}}
	case Release:
		if policy == ReleaseKeyRel {
			return []agc.Update{{Channel: ChanKeys, Value: keycodes[KeyKeyRel], Mask: keyMask, Masked: true}}
		}
	}
	return nil
}
