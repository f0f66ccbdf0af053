package router

// glyphs maps the 5-bit channel 010 digit codes to characters. Codes not
// listed render as a blank.
var glyphs = [32]byte{
	0:  ' ',
	21: '0',
	3:  '1',
	25: '2',
	27: '3',
	15: '4',
	30: '5',
	28: '6',
	19: '7',
	29: '8',
	31: '9',
}

// Glyph returns the character for a 5-bit digit code.
func Glyph(code uint16) byte {
	g := glyphs[code&0x1F]
	if g == 0 {
		return ' '
	}
	return g
}

// DigitCode is the inverse of Glyph: the 5-bit code that displays c.
// Characters without a code map to 0 (blank).
func DigitCode(c byte) uint16 {
	for code, g := range glyphs {
		if g == c && g != 0 {
			return uint16(code)
		}
	}
	return 0
}
