package items

import (
	"strings"
	"testing"
	"time"

	"github.com/machinemetrics/shdr-adapter/internal/shdr"
)

func parse(t *testing.T, raw string) shdr.Line {
	t.Helper()
	line, err := shdr.ParseLine(raw)
	if err != nil {
		t.Fatalf("ParseLine(%q): %v", raw, err)
	}
	return line
}

func TestApplyValues(t *testing.T) {
	m := New()
	now := time.Now()
	m.Apply(parse(t, "2024-01-02T03:04:05.678Z|mode|AUTOMATIC|execution|ACTIVE"), now)
	m.Apply(parse(t, "2024-01-02T03:04:06.678Z|execution|STOPPED"), now)

	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
	exec, ok := m.Get("execution")
	if !ok {
		t.Fatal("execution not tracked")
	}
	if exec.Value != "STOPPED" || exec.Timestamp != "2024-01-02T03:04:06.678Z" {
		t.Errorf("execution = %q at %q", exec.Value, exec.Timestamp)
	}
	if exec.Kind != KindValue {
		t.Errorf("Kind = %q, want %q", exec.Kind, KindValue)
	}
}

func TestApplyConditions(t *testing.T) {
	tests := []struct {
		name     string
		lines    []string
		severity shdr.Level
		alarms   int
	}{
		{
			name:     "unavailable",
			lines:    []string{"ts|system|UNAVAILABLE||||"},
			severity: shdr.LevelUnavailable,
		},
		{
			name:     "normal",
			lines:    []string{"ts|system|NORMAL||||"},
			severity: shdr.LevelNormal,
		},
		{
			name:     "warning then fault",
			lines:    []string{"ts|system|WARNING|2040|||Low air", "ts|system|FAULT|1001|||Overload"},
			severity: shdr.LevelFault,
			alarms:   2,
		},
		{
			name:     "one alarm cleared by code",
			lines:    []string{"ts|system|WARNING|2040|||Low air", "ts|system|FAULT|1001|||Overload", "ts|system|NORMAL|1001|||"},
			severity: shdr.LevelWarning,
			alarms:   1,
		},
		{
			name:     "last alarm cleared by code",
			lines:    []string{"ts|system|WARNING|2040|||Low air", "ts|system|NORMAL|2040|||"},
			severity: shdr.LevelNormal,
		},
		{
			name:     "normal clears everything",
			lines:    []string{"ts|system|WARNING|2040|||Low air", "ts|system|FAULT|1001|||Overload", "ts|system|NORMAL||||"},
			severity: shdr.LevelNormal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			for _, raw := range tt.lines {
				m.Apply(parse(t, raw), time.Now())
			}
			it, ok := m.Get("system")
			if !ok {
				t.Fatal("system not tracked")
			}
			if it.Kind != KindCondition {
				t.Errorf("Kind = %q, want %q", it.Kind, KindCondition)
			}
			if got := it.Severity(); got != tt.severity {
				t.Errorf("Severity() = %s, want %s", got, tt.severity)
			}
			if len(it.Alarms) != tt.alarms {
				t.Errorf("%d alarms, want %d", len(it.Alarms), tt.alarms)
			}
		})
	}
}

func TestCountsAndStale(t *testing.T) {
	m := New()
	m.Apply(parse(t, "ts|system|WARNING|2040|||Low air"), time.Now())
	m.Apply(parse(t, "ts|system|FAULT|1001|||Overload"), time.Now())
	m.Apply(parse(t, "ts|coolant|FAULT|9|||Empty"), time.Now())

	if w, f := m.Counts(); w != 1 || f != 2 {
		t.Errorf("Counts() = %d, %d, want 1, 2", w, f)
	}

	m.MarkStale()
	if w, f := m.Counts(); w != 0 || f != 0 {
		t.Errorf("Counts() after MarkStale = %d, %d", w, f)
	}
	it, _ := m.Get("system")
	if it.Severity() != shdr.LevelUnavailable {
		t.Errorf("Severity() after MarkStale = %s", it.Severity())
	}
}

func TestSeedKeepsLiveValues(t *testing.T) {
	m := New()
	m.Apply(parse(t, "ts|mode|MANUAL"), time.Now())
	m.Seed("mode", KindValue)
	m.Seed("program", KindValue)

	mode, _ := m.Get("mode")
	if mode.Value != "MANUAL" {
		t.Errorf("Seed overwrote mode with %q", mode.Value)
	}
	program, _ := m.Get("program")
	if program.Value != shdr.Unavailable {
		t.Errorf("seeded program = %q", program.Value)
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
}

func TestNavigationWraps(t *testing.T) {
	m := New()
	m.Up()
	if m.Selected != 0 {
		t.Fatal("Up on empty table moved the selection")
	}
	m.Apply(parse(t, "ts|a|1|b|2|c|3"), time.Now())
	m.Up()
	if m.Selected != 2 {
		t.Errorf("Selected = %d, want 2", m.Selected)
	}
	m.Down()
	if m.Selected != 0 {
		t.Errorf("Selected = %d, want 0", m.Selected)
	}
}

func TestView(t *testing.T) {
	m := New()
	if v := m.View(10, time.Now()); !strings.Contains(v, "No data items") {
		t.Errorf("empty view = %q", v)
	}

	now := time.Now()
	m.Apply(parse(t, "ts|mode|AUTOMATIC"), now.Add(-90*time.Second))
	m.Apply(parse(t, "ts|system|FAULT|1001|||Overload"), now)
	m.Apply(parse(t, "ts|system|WARNING|2040|||Low air"), now)

	v := m.View(10, now)
	for _, want := range []string{"ITEM", "mode", "AUTOMATIC", "1m", "FAULT 1001 Overload (+1)", "now"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q:\n%s", want, v)
		}
	}
}

func TestViewScrollsToSelection(t *testing.T) {
	m := New()
	m.Apply(parse(t, "ts|a|1|b|2|c|3|d|4|e|5"), time.Now())
	m.Selected = 4

	v := m.View(3, time.Now())
	if !strings.Contains(v, "> e") {
		t.Errorf("selected row not visible:\n%s", v)
	}
	if strings.Contains(v, "  a ") {
		t.Errorf("first row should have scrolled off:\n%s", v)
	}
}
