package source

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/machinemetrics/shdr-adapter/internal/shdr"
)

// mockProgram is the part program the mock machine loops through.
var mockProgram = []string{
	"G90G54G00X0Y0",
	"S1200M03",
	"G43H01Z5.0",
	"G01Z-1.0F150",
	"G01X50.0Y0F300",
	"G02X50.0Y50.0I0J25.0",
	"G01X0Y50.0",
	"G01X0Y0",
	"G00Z25.0M05",
	"M30",
}

type mockAlarm struct {
	code  string
	level shdr.Level
	text  string
}

var mockAlarms = []mockAlarm{
	{"1001", shdr.LevelFault, "Spindle overload"},
	{"2040", shdr.LevelWarning, "Coolant level low"},
	{"3300", shdr.LevelWarning, "Way lube pressure low"},
}

// MockSource simulates a machining center that runs a program in a loop,
// pausing now and then and raising the occasional alarm.
type MockSource struct {
	name string
	rng  *rand.Rand

	avail     *shdr.Event
	info      *shdr.Event
	mode      *shdr.Event
	execution *shdr.Event
	block     *shdr.Event
	program   *shdr.Event
	line      *shdr.Event
	partCount *shdr.Event
	spindle   *shdr.Sample
	system    *shdr.Condition

	tick   int
	step   int
	parts  int
	held   int
	alarms map[string]int
}

// NewMockSource creates a mock machine. adapterName is reported through
// adapter_info; seed makes the simulation reproducible.
func NewMockSource(adapterName string, seed int64) *MockSource {
	return &MockSource{
		name:      adapterName,
		rng:       rand.New(rand.NewSource(seed)),
		avail:     shdr.NewEvent("avail"),
		info:      shdr.NewEvent("adapter_info"),
		mode:      shdr.NewEvent("mode"),
		execution: shdr.NewEvent("execution"),
		block:     shdr.NewEvent("block"),
		program:   shdr.NewEvent("program"),
		line:      shdr.NewEvent("line"),
		partCount: shdr.NewEvent("part_count"),
		spindle:   shdr.NewSample("spindle_speed"),
		system:    shdr.NewCondition("system"),
		alarms:    make(map[string]int),
	}
}

func (m *MockSource) Name() string { return "mock" }

func (m *MockSource) Register(t Target) error {
	for _, di := range []shdr.DataItem{
		m.info, m.avail, m.mode, m.execution, m.block, m.program,
		m.line, m.partCount, m.spindle, m.system,
	} {
		if err := t.AddDataItem(di); err != nil {
			return err
		}
	}
	m.execution.Set("READY")
	m.static()
	m.system.Normal()
	return nil
}

// static sets the values that only change between cycles. Scan repeats it
// so they recover after a cycle marked everything unavailable.
func (m *MockSource) static() {
	m.info.Set(m.name)
	m.avail.Set("AVAILABLE")
	m.mode.Set("AUTOMATIC")
	m.program.Set("O1234")
	m.partCount.Set(fmt.Sprintf("%d", m.parts))
}

func (m *MockSource) Scan(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.tick++

	switch {
	case m.held > 0:
		m.held--
		m.execution.Set("FEED_HOLD")
		m.spindle.Set(0)
	case m.rng.Intn(20) == 0:
		m.held = 1 + m.rng.Intn(3)
		m.execution.Set("FEED_HOLD")
		m.spindle.Set(0)
	default:
		m.execution.Set("ACTIVE")
		m.advance()
	}

	m.static()
	m.scanAlarms()
	if len(m.system.Active()) == 0 {
		m.system.Normal()
	}
	return nil
}

// advance steps one program block.
func (m *MockSource) advance() {
	m.block.Set(mockProgram[m.step])
	m.line.Set(fmt.Sprintf("%d", (m.step+1)*10))
	if m.step >= 1 && m.step < len(mockProgram)-2 {
		m.spindle.Set(1200 + float64(m.rng.Intn(41)-20))
	} else {
		m.spindle.Set(0)
	}

	m.step++
	if m.step == len(mockProgram) {
		m.step = 0
		m.parts++
	}
}

// scanAlarms re-asserts active alarms, ages them out and occasionally
// raises a new one. Alarms not re-asserted are swept by the adapter.
func (m *MockSource) scanAlarms() {
	if m.rng.Intn(30) == 0 {
		a := mockAlarms[m.rng.Intn(len(mockAlarms))]
		if _, active := m.alarms[a.code]; !active {
			m.alarms[a.code] = 3 + m.rng.Intn(5)
		}
	}

	for _, a := range mockAlarms {
		left, active := m.alarms[a.code]
		if !active {
			continue
		}
		if left == 0 {
			delete(m.alarms, a.code)
			continue
		}
		m.alarms[a.code] = left - 1
		m.system.Add(a.level, a.text, a.code, "", "")
	}
}
