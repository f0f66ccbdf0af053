package auxinput

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kstaniek/go-pidsky/internal/keypad"
)

// ButtonMap maps evdev key codes to DSKY key characters.
type ButtonMap map[uint16]byte

// evdev button codes from linux/input-event-codes.h.
var buttonCodes = map[string]uint16{
	"BTN_TRIGGER": 0x120,
	"BTN_THUMB":   0x121,
	"BTN_THUMB2":  0x122,
	"BTN_TOP":     0x123,
	"BTN_TOP2":    0x124,
	"BTN_PINKIE":  0x125,
	"BTN_BASE":    0x126,
	"BTN_BASE2":   0x127,
	"BTN_BASE3":   0x128,
	"BTN_BASE4":   0x129,
	"BTN_BASE5":   0x12a,
	"BTN_BASE6":   0x12b,
	"BTN_SOUTH":   0x130,
	"BTN_EAST":    0x131,
	"BTN_NORTH":   0x133,
	"BTN_WEST":    0x134,
	"BTN_TL":      0x136,
	"BTN_TR":      0x137,
	"BTN_SELECT":  0x13a,
	"BTN_START":   0x13b,
}

var keyNames = map[string]byte{
	"ENTR": keypad.KeyEnter, "ENTER": keypad.KeyEnter,
	"RSET": keypad.KeyReset, "RESET": keypad.KeyReset,
	"CLR": keypad.KeyClear, "CLEAR": keypad.KeyClear,
	"PRO":    keypad.KeyPro,
	"KEYREL": keypad.KeyKeyRel,
	"VERB":   keypad.KeyVerb,
	"NOUN":   keypad.KeyNoun,
	"PLUS":   keypad.KeyPlus,
	"MINUS":  keypad.KeyMinus,
}

var canonical = map[byte]string{
	keypad.KeyEnter: "ENTR", keypad.KeyReset: "RSET", keypad.KeyClear: "CLR",
	keypad.KeyPro: "PRO", keypad.KeyKeyRel: "KEYREL", keypad.KeyVerb: "VERB",
	keypad.KeyNoun: "NOUN", keypad.KeyPlus: "PLUS", keypad.KeyMinus: "MINUS",
}

// DefaultButtons covers the first seven joystick buttons.
func DefaultButtons() ButtonMap {
	return ButtonMap{
		0x120: keypad.KeyEnter,
		0x121: keypad.KeyPro,
		0x122: keypad.KeyKeyRel,
		0x123: keypad.KeyReset,
		0x124: keypad.KeyClear,
		0x125: keypad.KeyVerb,
		0x126: keypad.KeyNoun,
	}
}

// ParseButtons parses "BTN_TRIGGER=ENTR,0x121=PRO,290=5". Buttons are evdev
// names or numbers; keys are names or single key characters. An empty
// string yields DefaultButtons.
func ParseButtons(s string) (ButtonMap, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultButtons(), nil
	}
	m := ButtonMap{}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		btn, key, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("button map entry %q: want button=key", item)
		}
		code, err := parseButton(strings.TrimSpace(btn))
		if err != nil {
			return nil, err
		}
		c, err := parseKey(strings.TrimSpace(key))
		if err != nil {
			return nil, err
		}
		m[code] = c
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("button map %q is empty", s)
	}
	return m, nil
}

func parseButton(s string) (uint16, error) {
	if c, ok := buttonCodes[strings.ToUpper(s)]; ok {
		return c, nil
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("unknown button %q", s)
	}
	return uint16(v), nil
}

func parseKey(s string) (byte, error) {
	if c, ok := keyNames[strings.ToUpper(s)]; ok {
		return c, nil
	}
	if len(s) == 1 && keypad.Valid(s[0]) {
		return s[0], nil
	}
	return 0, fmt.Errorf("unknown DSKY key %q", s)
}

// String renders the map in ParseButtons syntax, sorted by code.
func (m ButtonMap) String() string {
	codes := make([]int, 0, len(m))
	for c := range m {
		codes = append(codes, int(c))
	}
	sort.Ints(codes)
	parts := make([]string, 0, len(codes))
	for _, c := range codes {
		k := m[uint16(c)]
		name, ok := canonical[k]
		if !ok {
			name = string(k)
		}
		parts = append(parts, fmt.Sprintf("0x%x=%s", c, name))
	}
	return strings.Join(parts, ",")
}
