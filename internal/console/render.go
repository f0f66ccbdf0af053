package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kstaniek/go-pidsky/internal/dsky"
)

// lampRef names one lamp: the register holding it and its bit (1 or 2).
type lampRef struct {
	reg  dsky.Register
	bit  uint8
	name string
}

// lampGrid follows the DSKY caution panel: two columns, top to bottom.
var lampGrid = [][2]lampRef{
	{{dsky.RegTempUplink, 2, "UPLINK ACTY"}, {dsky.RegTempUplink, 1, "TEMP"}},
	{{dsky.RegGimbalNoAtt, 2, "NO ATT"}, {dsky.RegGimbalNoAtt, 1, "GIMBAL LOCK"}},
	{{dsky.RegProgStandby, 2, "STBY"}, {dsky.RegProgStandby, 1, "PROG"}},
	{{dsky.RegRestartKeyRel, 2, "KEY REL"}, {dsky.RegRestartKeyRel, 1, "RESTART"}},
	{{dsky.RegTrackerOprErr, 2, "OPR ERR"}, {dsky.RegTrackerOprErr, 1, "TRACKER"}},
	{{dsky.RegAltPrioDsp, 2, "PRIO DSP"}, {dsky.RegAltPrioDsp, 1, "ALT"}},
	{{dsky.RegVelNoDap, 2, "NO DAP"}, {dsky.RegVelNoDap, 1, "VEL"}},
}

type styles struct {
	box   lipgloss.Style
	lit   lipgloss.Style
	dark  lipgloss.Style
	digit lipgloss.Style
	label lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		box:   r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1),
		lit:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11")),
		dark:  r.NewStyle().Foreground(lipgloss.Color("238")),
		digit: r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		label: r.NewStyle().Foreground(lipgloss.Color("12")),
	}
}

// panel is the state the renderer draws.
type panel struct {
	digits [dsky.NumFields]byte
	regs   map[dsky.Register]uint8
}

func (p *panel) lit(r dsky.Register, bit uint8) bool {
	if p.regs[dsky.RegTest] != 0 {
		return true
	}
	return p.regs[r]&bit != 0
}

func (p *panel) chars(fs ...dsky.Field) string {
	b := make([]byte, len(fs))
	for i, f := range fs {
		b[i] = p.digits[f]
	}
	return string(b)
}

func (st styles) lamp(on bool, name string) string {
	name = fmt.Sprintf("%-11s", name)
	if on {
		return st.lit.Render(name)
	}
	return st.dark.Render(name)
}

// render draws the lamp panel next to the numeric display.
func render(st styles, p *panel) string {
	var lamps []string
	for _, row := range lampGrid {
		lamps = append(lamps, st.lamp(p.lit(row[0].reg, row[0].bit), row[0].name)+" "+st.lamp(p.lit(row[1].reg, row[1].bit), row[1].name))
	}
	compActy := st.lamp(p.lit(dsky.RegCompActy, 1), "COMP ACTY")
	display := []string{
		compActy + "  " + st.label.Render("PROG"),
		strings.Repeat(" ", 13) + st.digit.Render(p.chars(dsky.FieldM1, dsky.FieldM2)),
		st.label.Render("VERB") + strings.Repeat(" ", 9) + st.label.Render("NOUN"),
		st.digit.Render(p.chars(dsky.FieldV1, dsky.FieldV2)) + strings.Repeat(" ", 11) + st.digit.Render(p.chars(dsky.FieldN1, dsky.FieldN2)),
		st.digit.Render(p.chars(dsky.FieldS1, dsky.Field11, dsky.Field12, dsky.Field13, dsky.Field14, dsky.Field15)),
		st.digit.Render(p.chars(dsky.FieldS2, dsky.Field21, dsky.Field22, dsky.Field23, dsky.Field24, dsky.Field25)),
		st.digit.Render(p.chars(dsky.FieldS3, dsky.Field31, dsky.Field32, dsky.Field33, dsky.Field34, dsky.Field35)),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		st.box.Render(strings.Join(lamps, "\n")),
		st.box.Render(strings.Join(display, "\n")),
	)
}
