// Package dsky defines the device boundary of the DSKY: display fields,
// lamp registers, raw key matrix samples and the Facade the control loop
// writes to and polls.
package dsky

import "errors"

// ErrClosed is returned by facades used after Close.
var ErrClosed = errors.New("dsky: device closed")

// Field names one display slot: a digit position or a sign.
type Field uint8

const (
	FieldM1 Field = iota
	FieldM2
	FieldV1
	FieldV2
	FieldN1
	FieldN2
	Field11
	Field12
	Field13
	Field14
	Field15
	Field21
	Field22
	Field23
	Field24
	Field25
	Field31
	Field32
	Field33
	Field34
	Field35
	FieldS1
	FieldS2
	FieldS3
	NumFields
)

var fieldNames = [NumFields]string{
	"M1", "M2", "V1", "V2", "N1", "N2",
	"11", "12", "13", "14", "15",
	"21", "22", "23", "24", "25",
	"31", "32", "33", "34", "35",
	"S1", "S2", "S3",
}

func (f Field) String() string {
	if f < NumFields {
		return fieldNames[f]
	}
	return "?"
}

// IsSign reports whether f is one of the three register sign slots.
func (f Field) IsSign() bool { return f >= FieldS1 && f <= FieldS3 }

// ParseField resolves a field name such as "V1" or "S2".
func ParseField(s string) (Field, bool) {
	for i, n := range fieldNames {
		if n == s {
			return Field(i), true
		}
	}
	return 0, false
}

// Register is a lamp output register. The pair registers hold two lamps
// as a 2-bit value (1 = first lamp, 2 = second lamp). The numeric value is
// the TM1638 LED address used by the panel hardware.
type Register uint8

const (
	RegTempUplink    Register = 0x01
	RegGimbalNoAtt   Register = 0x03
	RegProgStandby   Register = 0x05
	RegRestartKeyRel Register = 0x07
	RegTrackerOprErr Register = 0x09
	RegAltPrioDsp    Register = 0x0b
	RegVelNoDap      Register = 0x0d
	RegCompActy      Register = 0x0f
	RegTest          Register = 0x10 // logical only; not backed by a TM1638 LED
)

// Registers lists every lamp register in address order.
var Registers = []Register{
	RegTempUplink, RegGimbalNoAtt, RegProgStandby, RegRestartKeyRel,
	RegTrackerOprErr, RegAltPrioDsp, RegVelNoDap, RegCompActy, RegTest,
}

func (r Register) String() string {
	switch r {
	case RegTempUplink:
		return "TEMP/UPLINK ACTY"
	case RegGimbalNoAtt:
		return "GIMBAL LOCK/NO ATT"
	case RegProgStandby:
		return "PROG/STANDBY"
	case RegRestartKeyRel:
		return "RESTART/KEY REL"
	case RegTrackerOprErr:
		return "TRACKER/OPR ERR"
	case RegAltPrioDsp:
		return "ALT/PRIO DSP"
	case RegVelNoDap:
		return "VEL/NO DAP"
	case RegCompActy:
		return "COMP ACTY"
	case RegTest:
		return "TEST"
	}
	return "?"
}

// Valid reports whether r is a known register.
func (r Register) Valid() bool {
	for _, x := range Registers {
		if x == r {
			return true
		}
	}
	return false
}

// Sample is one raw poll of the 4-byte key matrix.
type Sample [4]byte

// IsZero reports whether no key is down.
func (s Sample) IsZero() bool { return s == Sample{} }

// Facade is the hardware/graphics boundary. Writes are synchronous; any
// error is treated as a device failure by the caller.
type Facade interface {
	// SetDigit shows glyph (' ', '0'..'9', '+', '-') at field.
	SetDigit(f Field, glyph byte) error
	// SetRegister writes a lamp register value.
	SetRegister(r Register, value uint8) error
	// ReadKeys returns the current raw key matrix.
	ReadKeys() (Sample, error)
	// Clear blanks every field and turns every lamp off.
	Clear() error
	// Close releases the device; it should leave it cleared.
	Close() error
}
