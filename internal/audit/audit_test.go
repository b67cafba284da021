package audit

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
	drained  bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestNewEvent(t *testing.T) {
	e := NewEvent("get_top_movers", "EDGE")
	if _, err := uuid.Parse(e.ID); err != nil {
		t.Errorf("ID %q is not a UUID: %v", e.ID, err)
	}
	if e.At.IsZero() {
		t.Error("expected timestamp")
	}
	if other := NewEvent("get_top_movers", "EDGE"); other.ID == e.ID {
		t.Error("expected distinct IDs")
	}
}

func TestNATSPublisher_Publish(t *testing.T) {
	fc := &fakeConn{}
	p := newNATSPublisher(fc, "")

	e := NewEvent("get_overnight_signals", "FREE")
	e.ScanDate = "2025-01-15"
	e.Count = 3
	p.Publish(e)

	if len(fc.subjects) != 1 || fc.subjects[0] != DefaultSubject {
		t.Fatalf("subjects = %v", fc.subjects)
	}
	var got map[string]any
	if err := json.Unmarshal(fc.payloads[0], &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if got["tool"] != "get_overnight_signals" || got["tier"] != "FREE" || got["count"] != 3.0 {
		t.Errorf("unexpected payload: %v", got)
	}
	if _, ok := got["code"]; ok {
		t.Error("empty code should be omitted")
	}

	if err := p.Close(); err != nil || !fc.drained {
		t.Errorf("Close: err=%v drained=%v", err, fc.drained)
	}
}

func TestNATSPublisher_PublishErrorIsSwallowed(t *testing.T) {
	fc := &fakeConn{err: errors.New("nats: connection closed")}
	p := newNATSPublisher(fc, "custom.subject")
	p.Publish(NewEvent("get_market_themes", "WAR_ROOM"))
	if p.subject != "custom.subject" {
		t.Errorf("subject = %q", p.subject)
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	p.Publish(NewEvent("x", "FREE"))
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
