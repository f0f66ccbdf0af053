// Package status mirrors what the DSKY shows and publishes it over HTTP:
// a JSON snapshot at /state and a live websocket feed at /ws.
package status

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/kstaniek/go-pidsky/internal/dsky"
	"github.com/kstaniek/go-pidsky/internal/hub"
	"github.com/kstaniek/go-pidsky/internal/keypad"
	"github.com/kstaniek/go-pidsky/internal/logging"
)

// Snapshot is the full mirrored panel state.
type Snapshot struct {
	State     string            `json:"state"`
	Fields    map[string]string `json:"fields"`
	Registers map[string]uint8  `json:"registers"`
	LastKey   string            `json:"last_key,omitempty"`
	Updated   time.Time         `json:"updated"`
}

// Update is one feed message.
type Update struct {
	Type     string    `json:"type"` // snapshot|digit|register|clear|state|key
	Field    string    `json:"field,omitempty"`
	Glyph    string    `json:"glyph,omitempty"`
	Register string    `json:"register,omitempty"`
	Value    *uint8    `json:"value,omitempty"`
	State    string    `json:"state,omitempty"`
	Key      string    `json:"key,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// Mirror is a dsky.Facade decorator. Successful writes to the wrapped
// facade are recorded and broadcast; failed writes are not.
type Mirror struct {
	next dsky.Facade
	hub  *hub.Hub
	now  func() time.Time

	mu      sync.RWMutex
	digits  [dsky.NumFields]byte
	regs    map[dsky.Register]uint8
	state   string
	lastKey string
	updated time.Time
}

// NewMirror wraps next and publishes to h (nil disables the feed).
func NewMirror(next dsky.Facade, h *hub.Hub) *Mirror {
	m := &Mirror{next: next, hub: h, now: time.Now, regs: make(map[dsky.Register]uint8), state: "disconnected"}
	m.blank()
	return m
}

func (m *Mirror) blank() {
	for i := range m.digits {
		m.digits[i] = ' '
	}
	for _, r := range dsky.Registers {
		m.regs[r] = 0
	}
}

func (m *Mirror) SetDigit(f dsky.Field, glyph byte) error {
	if err := m.next.SetDigit(f, glyph); err != nil {
		return err
	}
	m.mu.Lock()
	if f < dsky.NumFields {
		m.digits[f] = glyph
	}
	m.updated = m.now()
	m.mu.Unlock()
	m.publish(Update{Type: "digit", Field: f.String(), Glyph: string(glyph)})
	return nil
}

func (m *Mirror) SetRegister(r dsky.Register, value uint8) error {
	if err := m.next.SetRegister(r, value); err != nil {
		return err
	}
	m.mu.Lock()
	m.regs[r] = value
	m.updated = m.now()
	m.mu.Unlock()
	v := value
	m.publish(Update{Type: "register", Register: r.String(), Value: &v})
	return nil
}

func (m *Mirror) ReadKeys() (dsky.Sample, error) { return m.next.ReadKeys() }

func (m *Mirror) Clear() error {
	if err := m.next.Clear(); err != nil {
		return err
	}
	m.mu.Lock()
	m.blank()
	m.updated = m.now()
	m.mu.Unlock()
	m.publish(Update{Type: "clear"})
	return nil
}

func (m *Mirror) Close() error {
	err := m.next.Close()
	m.mu.Lock()
	m.blank()
	m.mu.Unlock()
	return err
}

// SetState records the connection state, e.g. from a session observer.
func (m *Mirror) SetState(state string) {
	m.mu.Lock()
	m.state = state
	m.updated = m.now()
	m.mu.Unlock()
	m.publish(Update{Type: "state", State: state})
}

// KeyEvent records a key event, e.g. from a session key observer.
func (m *Mirror) KeyEvent(ev keypad.Event) {
	m.mu.Lock()
	m.lastKey = ev.String()
	m.mu.Unlock()
	m.publish(Update{Type: "key", Key: ev.String()})
}

// Snapshot returns a copy of the current state.
func (m *Mirror) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{
		State:     m.state,
		Fields:    make(map[string]string, dsky.NumFields),
		Registers: make(map[string]uint8, len(m.regs)),
		LastKey:   m.lastKey,
		Updated:   m.updated,
	}
	for i, g := range m.digits {
		s.Fields[dsky.Field(i).String()] = string(g)
	}
	for r, v := range m.regs {
		s.Registers[r.String()] = v
	}
	return s
}

func (m *Mirror) publish(u Update) {
	if m.hub == nil || m.hub.Count() == 0 {
		return
	}
	b, err := json.Marshal(u)
	if err != nil {
		logging.L().Warn("status_encode_failed", "error", err)
		return
	}
	m.hub.Broadcast(b)
}
