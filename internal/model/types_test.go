package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTimestampIsUTC(t *testing.T) {
	loc := time.FixedZone("X", 2*3600)
	ts := Timestamp(time.Date(2024, 5, 1, 12, 0, 0, 500, loc))
	if ts != "2024-05-01T10:00:00.0000005Z" {
		t.Errorf("Timestamp = %q", ts)
	}
}

func TestOutputWireShape(t *testing.T) {
	data, err := json.Marshal(Output{Content: "hi", Timestamp: "t", Target: "default"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(data)
	if got != `{"content":"hi","timestamp":"t","target":"default"}` {
		t.Errorf("got %s", got)
	}
	if strings.Contains(got, `"type"`) {
		t.Errorf("output frame must not carry a type field: %s", got)
	}
}

func TestHierarchyOrdering(t *testing.T) {
	h := Hierarchy{
		"zeta": {Name: "zeta"},
		"alpha": {Name: "alpha", Windows: map[string]WindowNode{
			"10": {Window: Window{Index: 10}},
			"2":  {Window: Window{Index: 2}, Panes: map[string]Pane{"1": {Index: 1}, "0": {Index: 0}}},
		}},
	}
	names := h.SessionNames()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("SessionNames = %v", names)
	}
	wins := h["alpha"].SortedWindows()
	if wins[0].Index != 2 || wins[1].Index != 10 {
		t.Errorf("SortedWindows not numeric order: %d, %d", wins[0].Index, wins[1].Index)
	}
	panes := wins[0].SortedPanes()
	if panes[0].Index != 0 || panes[1].Index != 1 {
		t.Errorf("SortedPanes = %+v", panes)
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s.SessionName != "default" || !s.AutoCreateSession || !s.CaptureHistory {
		t.Errorf("DefaultSettings = %+v", s)
	}
}
