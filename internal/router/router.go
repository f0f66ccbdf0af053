// Package router turns AGC output channel writes into DSKY display and lamp
// updates. Writes are deduplicated at every level so a facade call happens
// only when what the operator sees actually changes.
package router

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kstaniek/go-pidsky/internal/agc"
	"github.com/kstaniek/go-pidsky/internal/dsky"
	"github.com/kstaniek/go-pidsky/internal/logging"
	"github.com/kstaniek/go-pidsky/internal/metrics"
)

// Output channels understood by the router.
const (
	ChanDisplay = 0o10  // relay words: two digits plus a sign flag per row
	ChanFlags   = 0o11  // COMP ACTY, UPLINK ACTY, V/N flash
	ChanTest    = 0o13  // lamp test
	ChanLamps   = 0o163 // DSKY lamps driven by the simulator
)

// DefaultFlashPeriod is the V/N flash half period.
const DefaultFlashPeriod = 750 * time.Millisecond

// Channel 011 bits.
const (
	flagCompActy = 0x02
	flagUplink   = 0x04
	flagFlash    = 0x20
)

// Channel 013 bits.
const testLamps = 0o1000

// Channel 0163 bits.
const (
	lampTemp    = 0o10
	lampKeyRel  = 0o20
	lampOprErr  = 0o100
	lampRestart = 0o200
	lampStandby = 0o400
)

// Row 12 bits of channel 010.
const (
	row12Vel     = 0x04
	row12NoAtt   = 0x08
	row12Alt     = 0x10
	row12Gimbal  = 0x20
	row12Tracker = 0x80
	row12Prog    = 0x100
)

// rowFields lists the (left, right) digit fields of each channel 010 row.
// A missing left digit is marked with noField.
const noField = dsky.NumFields

var rowFields = map[uint16][2]dsky.Field{
	11: {dsky.FieldM1, dsky.FieldM2},
	10: {dsky.FieldV1, dsky.FieldV2},
	9:  {dsky.FieldN1, dsky.FieldN2},
	8:  {noField, dsky.Field11},
	7:  {dsky.Field12, dsky.Field13},
	6:  {dsky.Field14, dsky.Field15},
	5:  {dsky.Field21, dsky.Field22},
	4:  {dsky.Field23, dsky.Field24},
	3:  {dsky.Field25, dsky.Field31},
	2:  {dsky.Field32, dsky.Field33},
	1:  {dsky.Field34, dsky.Field35},
}

// signRow maps a row carrying a sign flag to its sign index and polarity.
type signRow struct {
	index int
	plus  bool
}

var signRows = map[uint16]signRow{
	7: {0, true}, 6: {0, false},
	5: {1, true}, 4: {1, false},
	2: {2, true}, 1: {2, false},
}

var signFields = [3]dsky.Field{dsky.FieldS1, dsky.FieldS2, dsky.FieldS3}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger used for routing traces.
func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.log = l } }

// WithFlashPeriod overrides DefaultFlashPeriod.
func WithFlashPeriod(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.period = d
		}
	}
}

// WithClock sets the time source used when flashing starts.
func WithClock(now func() time.Time) Option { return func(r *Router) { r.now = now } }

// Router holds the display model. Not safe for concurrent use; the session
// loop owns it.
type Router struct {
	dev    dsky.Facade
	log    *slog.Logger
	now    func() time.Time
	period time.Duration

	last  map[uint16]uint16 // last value per channel (per row for 010)
	text  [dsky.NumFields]byte
	shown [dsky.NumFields]byte
	regs  map[dsky.Register]uint8
	lamps Lamps
	minus [3]bool

	flashing bool
	visible  bool
	next     time.Time
}

// New returns a Router writing to dev. The model starts blank, matching a
// cleared facade.
func New(dev dsky.Facade, opts ...Option) *Router {
	r := &Router{dev: dev, log: logging.L(), now: time.Now, period: DefaultFlashPeriod}
	for _, o := range opts {
		o(r)
	}
	r.Reset()
	return r
}

// Reset forgets all state. The caller is expected to have cleared the
// facade so the model and the device agree again.
func (r *Router) Reset() {
	r.last = make(map[uint16]uint16)
	r.regs = make(map[dsky.Register]uint8)
	for i := range r.text {
		r.text[i] = ' '
		r.shown[i] = ' '
	}
	for _, lr := range lampRegisters {
		r.regs[lr.reg] = 0
	}
	r.lamps = Lamps{}
	r.minus = [3]bool{}
	r.flashing = false
	r.visible = true
	r.next = time.Time{}
}

// Lamps returns the current lamp model.
func (r *Router) Lamps() Lamps { return r.lamps }

// Flashing reports whether V/N flash is active.
func (r *Router) Flashing() bool { return r.flashing }

// Handle applies one channel write. Unknown channels are ignored. Facade
// errors are returned unchanged in meaning, wrapped with the failing write.
func (r *Router) Handle(ev agc.ChannelEvent) error {
	key := uint16(ev.Channel) << 8
	value := ev.Value
	if ev.Channel == ChanDisplay {
		key |= (value >> 11) & 0x0F
	}
	if ev.Channel == ChanTest {
		value &= testLamps
	}
	if old, ok := r.last[key]; ok && old == value {
		return nil
	}
	r.last[key] = value
	metrics.IncChannelEvent(ev.Channel)

	switch ev.Channel {
	case ChanDisplay:
		return r.display(value)
	case ChanFlags:
		return r.flags(value)
	case ChanTest:
		return r.test(value)
	case ChanLamps:
		return r.dskyLamps(value)
	default:
		r.log.Debug("channel_ignored", "channel", fmt.Sprintf("%o", ev.Channel), "value", fmt.Sprintf("%o", ev.Value))
		return nil
	}
}

func (r *Router) display(value uint16) error {
	row := (value >> 11) & 0x0F
	flag := value&0x400 != 0
	if row == 12 {
		return r.row12(value)
	}
	fields, ok := rowFields[row]
	if !ok {
		r.log.Debug("display_row_ignored", "row", row)
		return nil
	}
	left, right := Glyph(value>>5), Glyph(value)
	r.log.Debug("display_row", "row", row, "left", string(left), "right", string(right), "flag", flag)
	if fields[0] != noField {
		if err := r.setField(fields[0], left); err != nil {
			return err
		}
	}
	if err := r.setField(fields[1], right); err != nil {
		return err
	}
	if s, ok := signRows[row]; ok {
		return r.sign(s, flag)
	}
	return nil
}

// sign applies a row's sign flag. A '+' row shows '+' when set and blanks
// the sign when clear unless a '-' from the paired row is on screen. A '-'
// row shows '-' when set and only forgets the minus when clear.
func (r *Router) sign(s signRow, flag bool) error {
	f := signFields[s.index]
	if s.plus {
		if flag {
			return r.setField(f, '+')
		}
		if !r.minus[s.index] || r.text[f] != '-' {
			return r.setField(f, ' ')
		}
		return nil
	}
	r.minus[s.index] = flag
	if flag {
		return r.setField(f, '-')
	}
	return nil
}

func (r *Router) row12(value uint16) error {
	r.lamps[LampVel] = value&row12Vel != 0
	r.lamps[LampNoAtt] = value&row12NoAtt != 0
	r.lamps[LampAlt] = value&row12Alt != 0
	r.lamps[LampGimbalLock] = value&row12Gimbal != 0
	r.lamps[LampTracker] = value&row12Tracker != 0
	r.lamps[LampProg] = value&row12Prog != 0
	return r.syncLamps()
}

func (r *Router) flags(value uint16) error {
	r.lamps[LampCompActy] = value&flagCompActy != 0
	r.lamps[LampUplinkActy] = value&flagUplink != 0
	if err := r.syncLamps(); err != nil {
		return err
	}
	flash := value&flagFlash != 0
	switch {
	case flash && !r.flashing:
		r.flashing = true
		r.visible = true
		r.next = r.now().Add(r.period)
	case !flash && r.flashing:
		r.flashing = false
		r.visible = true
		return r.refreshVN()
	}
	return nil
}

func (r *Router) test(value uint16) error {
	r.lamps[LampTest] = value != 0
	return r.syncLamps()
}

func (r *Router) dskyLamps(value uint16) error {
	r.lamps[LampTemp] = value&lampTemp != 0
	r.lamps[LampKeyRel] = value&lampKeyRel != 0
	r.lamps[LampOprErr] = value&lampOprErr != 0
	r.lamps[LampRestart] = value&lampRestart != 0
	r.lamps[LampStandby] = value&lampStandby != 0
	return r.syncLamps()
}

// Tick advances the V/N flash. Call it every loop iteration.
func (r *Router) Tick(now time.Time) error {
	if !r.flashing || now.Before(r.next) {
		return nil
	}
	r.visible = !r.visible
	r.next = r.next.Add(r.period)
	if r.next.Before(now) {
		r.next = now.Add(r.period)
	}
	return r.refreshVN()
}

var vnFields = [...]dsky.Field{dsky.FieldV1, dsky.FieldV2, dsky.FieldN1, dsky.FieldN2}

func (r *Router) hidden(f dsky.Field) bool {
	if r.visible {
		return false
	}
	for _, v := range vnFields {
		if v == f {
			return true
		}
	}
	return false
}

func (r *Router) refreshVN() error {
	for _, f := range vnFields {
		g := r.text[f]
		if r.hidden(f) {
			g = ' '
		}
		if err := r.write(f, g); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) setField(f dsky.Field, g byte) error {
	r.text[f] = g
	if r.hidden(f) {
		return nil
	}
	return r.write(f, g)
}

func (r *Router) write(f dsky.Field, g byte) error {
	if r.shown[f] == g {
		metrics.IncSuppressed()
		return nil
	}
	if err := r.dev.SetDigit(f, g); err != nil {
		return fmt.Errorf("set digit %s: %w", f, err)
	}
	r.shown[f] = g
	metrics.IncDeviceWrite()
	return nil
}

// syncLamps writes every register whose combined value changed.
func (r *Router) syncLamps() error {
	for _, lr := range lampRegisters {
		v := lr.value(&r.lamps)
		if r.regs[lr.reg] == v {
			continue
		}
		if err := r.dev.SetRegister(lr.reg, v); err != nil {
			return fmt.Errorf("set register %s: %w", lr.reg, err)
		}
		r.regs[lr.reg] = v
		metrics.IncDeviceWrite()
		r.log.Debug("lamp_register", "register", lr.reg.String(), "value", v)
	}
	return nil
}
