package console

import "github.com/kstaniek/go-pidsky/internal/keypad"

const ctrlC = 0x03

// MapKey translates a keyboard byte to a DSKY key. Letters are case
// insensitive; '_' and '=' are unshifted aliases for '-' and '+'.
func MapKey(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b, true
	case b == '\r' || b == '\n':
		return keypad.KeyEnter, true
	case b == '+' || b == '=':
		return keypad.KeyPlus, true
	case b == '-' || b == '_':
		return keypad.KeyMinus, true
	}
	if b >= 'a' && b <= 'z' {
		b -= 'a' - 'A'
	}
	switch b {
	case keypad.KeyVerb, keypad.KeyNoun, keypad.KeyClear, keypad.KeyPro,
		keypad.KeyKeyRel, keypad.KeyReset:
		return b, true
	}
	return 0, false
}
