package router

import (
	"strings"

	"github.com/kstaniek/go-pidsky/internal/dsky"
)

// Lamp identifies one indicator lamp.
type Lamp uint8

const (
	LampTemp Lamp = iota
	LampGimbalLock
	LampProg
	LampRestart
	LampTracker
	LampAlt
	LampVel
	LampUplinkActy
	LampNoAtt
	LampStandby
	LampKeyRel
	LampOprErr
	LampPrioDsp
	LampNoDap
	LampCompActy
	LampTest
	NumLamps
)

var lampNames = [NumLamps]string{
	"TEMP", "GIMBAL LOCK", "PROG", "RESTART", "TRACKER", "ALT", "VEL",
	"UPLINK ACTY", "NO ATT", "STANDBY", "KEY REL", "OPR ERR", "PRIO DSP",
	"NO DAP", "COMP ACTY", "TEST",
}

func (l Lamp) String() string {
	if l < NumLamps {
		return lampNames[l]
	}
	return "?"
}

// Lamps is the lit state of every lamp.
type Lamps [NumLamps]bool

// Lit reports whether l is on.
func (s Lamps) Lit(l Lamp) bool { return l < NumLamps && s[l] }

// String lists lit lamps, e.g. "TEMP,UPLINK ACTY".
func (s Lamps) String() string {
	var on []string
	for i, lit := range s {
		if lit {
			on = append(on, Lamp(i).String())
		}
	}
	return strings.Join(on, ",")
}

// lampRegister describes a physical register and the lamps it drives.
// Single-lamp registers leave second unset.
type lampRegister struct {
	reg    dsky.Register
	first  Lamp
	second Lamp
	pair   bool
}

var lampRegisters = []lampRegister{
	{dsky.RegTempUplink, LampTemp, LampUplinkActy, true},
	{dsky.RegGimbalNoAtt, LampGimbalLock, LampNoAtt, true},
	{dsky.RegProgStandby, LampProg, LampStandby, true},
	{dsky.RegRestartKeyRel, LampRestart, LampKeyRel, true},
	{dsky.RegTrackerOprErr, LampTracker, LampOprErr, true},
	{dsky.RegAltPrioDsp, LampAlt, LampPrioDsp, true},
	{dsky.RegVelNoDap, LampVel, LampNoDap, true},
	{dsky.RegCompActy, LampCompActy, 0, false},
	{dsky.RegTest, LampTest, 0, false},
}

// value combines the lamp states into the register value:
// 0 both off, 1 first on, 2 second on, 3 both on.
func (lr lampRegister) value(s *Lamps) uint8 {
	var v uint8
	if s[lr.first] {
		v |= 1
	}
	if lr.pair && s[lr.second] {
		v |= 2
	}
	return v
}
