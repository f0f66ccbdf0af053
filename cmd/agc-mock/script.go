package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/kstaniek/go-pidsky/internal/router"
)

// Script commands, one per line; '#' starts a comment. Arguments are
// separated by spaces or commas and may be quoted.
//
//	LOG "text"
//	WAIT seconds
//	DISP row c1 c2 [+|-]
//	LAMP name 0|1
//	RAW channel value
//	SIMULATE seconds alt0 alt1 vel0 vel1
type op uint8

const (
	opLog op = iota + 1
	opWait
	opDisp
	opLamp
	opRaw
	opSimulate
)

type step struct {
	op   op
	line int
	text string
	dur  time.Duration

	channel uint8
	value   uint16

	lamp string
	on   bool

	alt0, alt1, vel0, vel1 float64
}

type lampBit struct {
	channel uint8
	bit     uint16
}

// lamps are addressed by name; row 12 lamps share one relay word.
var lamps = map[string]lampBit{
	"COMPACTY": {router.ChanFlags, 0x02},
	"UPLINK":   {router.ChanFlags, 0x04},
	"FLASH":    {router.ChanFlags, 0x20},
	"TEST":     {router.ChanTest, 0o1000},
	"TEMP":     {router.ChanLamps, 0o10},
	"KEYREL":   {router.ChanLamps, 0o20},
	"OPRERR":   {router.ChanLamps, 0o100},
	"RESTART":  {router.ChanLamps, 0o200},
	"STBY":     {router.ChanLamps, 0o400},
	"VEL":      {router.ChanDisplay, 0x04},
	"NOATT":    {router.ChanDisplay, 0x08},
	"ALT":      {router.ChanDisplay, 0x10},
	"GIMBAL":   {router.ChanDisplay, 0x20},
	"TRACKER":  {router.ChanDisplay, 0x80},
	"PROG":     {router.ChanDisplay, 0x100},
}

const (
	row12    = 12 << 11
	signFlag = 0x400
)

func parseScript(r io.Reader) ([]step, error) {
	var steps []step
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		st, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		st.line = n
		steps = append(steps, st)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return steps, nil
}

func parseLine(line string) (step, error) {
	cmd, rest, _ := strings.Cut(line, " ")
	cmd, tail, hasComma := strings.Cut(cmd, ",")
	if hasComma {
		rest = tail + " " + rest
	}
	cmd = strings.ToUpper(cmd)
	if cmd == "LOG" {
		text := strings.TrimSpace(strings.TrimLeft(rest, ", "))
		if args, err := shlex.Split(text); err == nil && len(args) == 1 {
			text = args[0]
		}
		return step{op: opLog, text: text}, nil
	}
	args, err := shlex.Split(strings.ReplaceAll(rest, ",", " "))
	if err != nil {
		return step{}, err
	}
	switch cmd {
	case "WAIT":
		if len(args) != 1 {
			return step{}, fmt.Errorf("WAIT wants 1 argument")
		}
		d, err := parseSeconds(args[0])
		return step{op: opWait, dur: d}, err
	case "DISP":
		if len(args) < 2 || len(args) > 4 {
			return step{}, fmt.Errorf("DISP wants row c1 [c2] [+|-]")
		}
		row, err := strconv.ParseUint(args[0], 10, 4)
		if err != nil || row < 1 || row > 11 {
			return step{}, fmt.Errorf("DISP row %q out of range", args[0])
		}
		c2 := " "
		if len(args) > 2 {
			c2 = args[2]
		}
		w := uint16(row)<<11 | digit(args[1])<<5 | digit(c2)
		if len(args) == 4 && (args[3] == "+" || args[3] == "-" || args[3] == "1") {
			w |= signFlag
		}
		return step{op: opDisp, channel: router.ChanDisplay, value: w}, nil
	case "LAMP":
		if len(args) != 2 {
			return step{}, fmt.Errorf("LAMP wants name 0|1")
		}
		name := strings.ToUpper(strings.NewReplacer(" ", "", "_", "").Replace(args[0]))
		if _, ok := lamps[name]; !ok {
			return step{}, fmt.Errorf("unknown lamp %q", args[0])
		}
		on, err := strconv.ParseBool(args[1])
		return step{op: opLamp, lamp: name, on: on}, err
	case "RAW":
		if len(args) != 2 {
			return step{}, fmt.Errorf("RAW wants channel value")
		}
		ch, err := strconv.ParseUint(args[0], 0, 7)
		if err != nil {
			return step{}, fmt.Errorf("RAW channel: %w", err)
		}
		v, err := strconv.ParseUint(args[1], 0, 15)
		if err != nil {
			return step{}, fmt.Errorf("RAW value: %w", err)
		}
		return step{op: opRaw, channel: uint8(ch), value: uint16(v)}, nil
	case "SIMULATE":
		if len(args) != 5 {
			return step{}, fmt.Errorf("SIMULATE wants seconds alt0 alt1 vel0 vel1")
		}
		d, err := parseSeconds(args[0])
		if err != nil {
			return step{}, err
		}
		var f [4]float64
		for i, a := range args[1:] {
			if f[i], err = strconv.ParseFloat(a, 64); err != nil {
				return step{}, fmt.Errorf("SIMULATE argument %q: %w", a, err)
			}
		}
		return step{op: opSimulate, dur: d, alt0: f[0], alt1: f[1], vel0: f[2], vel1: f[3]}, nil
	}
	return step{}, fmt.Errorf("unknown command %q", cmd)
}

func parseSeconds(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("bad duration %q", s)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// digit converts a script character to a relay code; anything that is not
// 0-9 is blank.
func digit(s string) uint16 {
	if len(s) != 1 {
		return 0
	}
	return router.DigitCode(s[0])
}

// downlink is what a script writes to.
type downlink interface {
	Send(channel uint8, value uint16) error
}

type runner struct {
	out   downlink
	log   *slog.Logger
	tick  time.Duration
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	words map[uint8]uint16
}

func newRunner(out downlink, l *slog.Logger) *runner {
	return &runner{
		out:   out,
		log:   l,
		tick:  100 * time.Millisecond,
		now:   time.Now,
		sleep: sleepCtx,
		words: map[uint8]uint16{router.ChanDisplay: row12},
	}
}

func (r *runner) run(ctx context.Context, steps []step) error {
	for _, st := range steps {
		if err := r.exec(ctx, st); err != nil {
			return fmt.Errorf("line %d: %w", st.line, err)
		}
	}
	return nil
}

func (r *runner) exec(ctx context.Context, st step) error {
	switch st.op {
	case opLog:
		r.log.Info("script_log", "text", st.text)
	case opWait:
		return r.sleep(ctx, st.dur)
	case opRaw:
		if st.channel != router.ChanDisplay || st.value&0x7800 == row12 {
			r.words[st.channel] = st.value
		}
		return r.out.Send(st.channel, st.value)
	case opDisp:
		return r.out.Send(st.channel, st.value)
	case opLamp:
		lb := lamps[st.lamp]
		w := r.words[lb.channel]
		if st.on {
			w |= lb.bit
		} else {
			w &^= lb.bit
		}
		r.words[lb.channel] = w
		return r.out.Send(lb.channel, w)
	case opSimulate:
		return r.simulate(ctx, st)
	}
	return nil
}

// simulate interpolates altitude into R1 and velocity into R2.
func (r *runner) simulate(ctx context.Context, st step) error {
	start := r.now()
	for {
		p := 1.0
		if st.dur > 0 {
			p = math.Min(float64(r.now().Sub(start))/float64(st.dur), 1)
		}
		alt := st.alt0 + (st.alt1-st.alt0)*p
		vel := st.vel0 + (st.vel1-st.vel0)*p
		if err := r.showRegisters(alt, vel); err != nil {
			return err
		}
		if p >= 1 {
			return nil
		}
		if err := r.sleep(ctx, r.tick); err != nil {
			return err
		}
	}
}

// registerWords renders R1 and R2 as five digits each with signs.
func registerWords(alt, vel float64) []uint16 {
	a := fmt.Sprintf("%05d", int64(math.Abs(alt))%100000)
	v := fmt.Sprintf("%05d", int64(math.Abs(vel))%100000)
	w := func(row uint16, l, r byte) uint16 {
		return row<<11 | router.DigitCode(l)<<5 | router.DigitCode(r)
	}
	plus, minus := uint16(signFlag), uint16(0)
	if alt < 0 {
		plus, minus = 0, signFlag
	}
	words := []uint16{
		w(8, ' ', a[0]),
		w(7, a[1], a[2]) | plus,
		w(6, a[3], a[4]) | minus,
	}
	plus, minus = signFlag, 0
	if vel < 0 {
		plus, minus = 0, signFlag
	}
	return append(words,
		w(5, v[0], v[1])|plus,
		w(4, v[2], v[3])|minus,
		w(3, v[4], ' '),
	)
}

func (r *runner) showRegisters(alt, vel float64) error {
	for _, w := range registerWords(alt, vel) {
		if err := r.out.Send(router.ChanDisplay, w); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// demoScript replays the classic lamp test cycle when no script is given.
const demoScript = `
LOG "lamp cycle"
DISP 10 _ 8
WAIT 2
DISP 9 1 2
WAIT 2
LAMP VEL 1
LAMP PROG 1
WAIT 2
LAMP UPLINK 1
WAIT 2
LAMP TEMP 1
LAMP OPRERR 1
WAIT 2
LOG "clearing lamps"
RAW 0o10 0o60000
RAW 0o11 0
RAW 0o163 0
WAIT 2
`
