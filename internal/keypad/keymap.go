package keypad

import "github.com/kstaniek/go-pidsky/internal/dsky"

// Key characters with special meaning.
const (
	KeyEnter  = '\n'
	KeyReset  = 'R'
	KeyClear  = 'C'
	KeyPro    = 'P'
	KeyKeyRel = 'K'
	KeyVerb   = 'V'
	KeyNoun   = 'N'
	KeyPlus   = '+'
	KeyMinus  = '-'
)

// matrix holds the TM1638 scan pattern of each key, indexed by key id - 1.
var matrix = [19]dsky.Sample{
	{4, 0, 0, 0},
	{64, 0, 0, 0},
	{0, 4, 0, 0},
	{0, 64, 0, 0},
	{0, 0, 4, 0},
	{0, 0, 64, 0},
	{0, 0, 0, 4},
	{0, 0, 0, 64},
	{2, 0, 0, 0},
	{32, 0, 0, 0},
	{0, 2, 0, 0},
	{0, 32, 0, 0},
	{0, 0, 2, 0},
	{0, 0, 32, 0},
	{0, 0, 0, 2},
	{0, 0, 0, 32},
	{1, 0, 0, 0},
	{16, 0, 0, 0},
	{0, 1, 0, 0},
}

// chars is the uplink character of each key id - 1.
var chars = [19]byte{
	KeyEnter, KeyReset, KeyClear, KeyPro, KeyKeyRel,
	'9', '6', '3', '8', '5', '2', '7', '4', '1',
	KeyPlus, KeyMinus, '0', KeyVerb, KeyNoun,
}

// Decode returns the key for an exact matrix pattern.
func Decode(s dsky.Sample) (byte, bool) {
	for i, m := range matrix {
		if m == s {
			return chars[i], true
		}
	}
	return 0, false
}

// Lookup returns the matrix pattern that Decode maps to c. Used by input
// sources that synthesize samples instead of scanning hardware.
func Lookup(c byte) (dsky.Sample, bool) {
	for i, k := range chars {
		if k == c {
			return matrix[i], true
		}
	}
	return dsky.Sample{}, false
}

// Valid reports whether c is a DSKY key character.
func Valid(c byte) bool {
	_, ok := Lookup(c)
	return ok
}

// KeyName returns a printable name for c.
func KeyName(c byte) string {
	switch c {
	case KeyEnter:
		return "ENTR"
	case KeyReset:
		return "RSET"
	case KeyClear:
		return "CLR"
	case KeyPro:
		return "PRO"
	case KeyKeyRel:
		return "KEY REL"
	case KeyVerb:
		return "VERB"
	case KeyNoun:
		return "NOUN"
	}
	return string(c)
}
