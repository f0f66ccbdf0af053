package status

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kstaniek/go-pidsky/internal/dsky"
	"github.com/kstaniek/go-pidsky/internal/hub"
	"github.com/kstaniek/go-pidsky/internal/keypad"
)

func TestMirrorRecordsWrites(t *testing.T) {
	mem := dsky.NewMemory()
	m := NewMirror(mem, nil)
	if err := m.SetDigit(dsky.FieldV1, '3'); err != nil {
		t.Fatalf("set digit: %v", err)
	}
	if err := m.SetRegister(dsky.RegCompActy, 1); err != nil {
		t.Fatalf("set register: %v", err)
	}
	m.SetState("connected")
	m.KeyEvent(keypad.Event{Kind: keypad.Press, Key: keypad.KeyVerb})

	s := m.Snapshot()
	if s.Fields["V1"] != "3" || s.Fields["N1"] != " " {
		t.Fatalf("fields %v", s.Fields)
	}
	if s.Registers["COMP ACTY"] != 1 {
		t.Fatalf("registers %v", s.Registers)
	}
	if s.State != "connected" || s.LastKey != "press(VERB)" {
		t.Fatalf("state %q key %q", s.State, s.LastKey)
	}
	if mem.Digit(dsky.FieldV1) != '3' {
		t.Fatal("write did not reach wrapped facade")
	}

	if err := m.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if s := m.Snapshot(); s.Fields["V1"] != " " || s.Registers["COMP ACTY"] != 0 {
		t.Fatalf("after clear %v %v", s.Fields, s.Registers)
	}
}

func TestMirrorSkipsFailedWrites(t *testing.T) {
	mem := dsky.NewMemory()
	mem.SetFail(errors.New("bus gone"))
	m := NewMirror(mem, nil)
	if err := m.SetDigit(dsky.FieldM1, '9'); err == nil {
		t.Fatal("expected error")
	}
	if got := m.Snapshot().Fields["M1"]; got != " " {
		t.Fatalf("failed write recorded: %q", got)
	}
}

func TestStateHandler(t *testing.T) {
	m := NewMirror(dsky.NewMemory(), nil)
	_ = m.SetDigit(dsky.FieldN2, '7')
	rec := httptest.NewRecorder()
	StateHandler(m).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}
	var s Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Fields["N2"] != "7" || s.State != "disconnected" {
		t.Fatalf("snapshot %+v", s)
	}

	rec = httptest.NewRecorder()
	StateHandler(m).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/state", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("post code %d", rec.Code)
	}
}

func readUpdate(t *testing.T, c *websocket.Conn) Update {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var u Update
	if err := c.ReadJSON(&u); err != nil {
		t.Fatalf("read: %v", err)
	}
	return u
}

func TestFeedSnapshotThenUpdates(t *testing.T) {
	h := hub.New()
	m := NewMirror(dsky.NewMemory(), h)
	_ = m.SetDigit(dsky.FieldV1, '1')

	srv := httptest.NewServer(FeedHandler(m, h))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	first := readUpdate(t, c)
	if first.Type != "snapshot" || first.Snapshot == nil || first.Snapshot.Fields["V1"] != "1" {
		t.Fatalf("first message %+v", first)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	_ = m.SetDigit(dsky.FieldV2, '6')
	u := readUpdate(t, c)
	if u.Type != "digit" || u.Field != "V2" || u.Glyph != "6" {
		t.Fatalf("update %+v", u)
	}

	_ = m.SetRegister(dsky.RegProgStandby, 2)
	u = readUpdate(t, c)
	if u.Type != "register" || u.Register != "PROG/STANDBY" || u.Value == nil || *u.Value != 2 {
		t.Fatalf("register update %+v", u)
	}

	m.SetState("connecting")
	if u = readUpdate(t, c); u.Type != "state" || u.State != "connecting" {
		t.Fatalf("state update %+v", u)
	}
}

func TestFeedClientGoneRemovesSubscriber(t *testing.T) {
	h := hub.New()
	m := NewMirror(dsky.NewMemory(), h)
	srv := httptest.NewServer(FeedHandler(m, h))
	defer srv.Close()
	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readUpdate(t, c)
	_ = c.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Count() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber still registered: %d", h.Count())
}

func TestHandlersPaths(t *testing.T) {
	hs := Handlers(NewMirror(dsky.NewMemory(), nil), hub.New())
	for _, p := range []string{"/state", "/ws"} {
		if hs[p] == nil {
			t.Fatalf("missing %s", p)
		}
	}
}
