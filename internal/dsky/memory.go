package dsky

import "sync"

// Write records one facade write for inspection.
type Write struct {
	Field    Field
	Glyph    byte
	Register Register
	Value    uint8
	IsDigit  bool
}

// Memory is an in-process Facade. It retains display state, records every
// write, and replays queued key samples. Used by the "null" backend and by
// tests. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	digits  [NumFields]byte
	regs    map[Register]uint8
	writes  []Write
	samples []Sample
	hold    Sample
	clears  int
	closed  bool
	fail    error // returned from every call while set
}

// NewMemory returns a cleared Memory facade.
func NewMemory() *Memory {
	m := &Memory{regs: make(map[Register]uint8)}
	m.blank()
	return m
}

func (m *Memory) blank() {
	for i := range m.digits {
		m.digits[i] = ' '
	}
	for _, r := range Registers {
		m.regs[r] = 0
	}
}

func (m *Memory) SetDigit(f Field, glyph byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errLocked(); err != nil {
		return err
	}
	if f < NumFields {
		m.digits[f] = glyph
	}
	m.writes = append(m.writes, Write{Field: f, Glyph: glyph, IsDigit: true})
	return nil
}

func (m *Memory) SetRegister(r Register, value uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errLocked(); err != nil {
		return err
	}
	m.regs[r] = value
	m.writes = append(m.writes, Write{Register: r, Value: value})
	return nil
}

// ReadKeys pops the next queued sample; once the queue is empty the last
// sample set with Hold is returned.
func (m *Memory) ReadKeys() (Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errLocked(); err != nil {
		return Sample{}, err
	}
	if len(m.samples) > 0 {
		s := m.samples[0]
		m.samples = m.samples[1:]
		return s, nil
	}
	return m.hold, nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.blank()
	m.clears++
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blank()
	m.closed = true
	return nil
}

func (m *Memory) errLocked() error {
	if m.closed {
		return ErrClosed
	}
	return m.fail
}

// QueueSamples appends samples returned by subsequent ReadKeys calls.
func (m *Memory) QueueSamples(s ...Sample) {
	m.mu.Lock()
	m.samples = append(m.samples, s...)
	m.mu.Unlock()
}

// Hold sets the sample returned once the queue drains.
func (m *Memory) Hold(s Sample) { m.mu.Lock(); m.hold = s; m.mu.Unlock() }

// SetFail makes every later call return err (nil restores normal operation).
func (m *Memory) SetFail(err error) { m.mu.Lock(); m.fail = err; m.mu.Unlock() }

// Digit returns the glyph currently shown at f.
func (m *Memory) Digit(f Field) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f >= NumFields {
		return 0
	}
	return m.digits[f]
}

// RegisterValue returns the current value of r.
func (m *Memory) RegisterValue(r Register) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[r]
}

// Writes returns a copy of the write log.
func (m *Memory) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Write, len(m.writes))
	copy(out, m.writes)
	return out
}

// RegisterWrites returns the values written to r in order.
func (m *Memory) RegisterWrites(r Register) []uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uint8
	for _, w := range m.writes {
		if !w.IsDigit && w.Register == r {
			out = append(out, w.Value)
		}
	}
	return out
}

// ResetWrites clears the write log.
func (m *Memory) ResetWrites() { m.mu.Lock(); m.writes = nil; m.mu.Unlock() }

// Clears returns how many times Clear succeeded.
func (m *Memory) Clears() int { m.mu.Lock(); defer m.mu.Unlock(); return m.clears }

// IsClear reports whether every field is blank and every lamp is off.
func (m *Memory) IsClear() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.digits {
		if d != ' ' {
			return false
		}
	}
	for _, v := range m.regs {
		if v != 0 {
			return false
		}
	}
	return true
}
