package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLogAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l := New(path)
	if err := l.Log(Event{Operation: "install", AppID: "730", Phase: "start", Status: "ok"}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := l.Log(Event{Operation: "install", AppID: "730", Phase: "commit", Status: "ok"}); err != nil {
		t.Fatalf("log: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	var events []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line not json: %v", err)
		}
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Phase != "start" || events[1].Phase != "commit" {
		t.Fatalf("order wrong: %+v", events)
	}
	if events[0].Timestamp == "" {
		t.Fatalf("timestamp not stamped")
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	var l *Logger
	if err := l.Log(Event{Operation: "install"}); err != nil {
		t.Fatalf("nil logger must be silent: %v", err)
	}
}
