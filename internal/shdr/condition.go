package shdr

import "sync"

// Level is the state of a single condition alarm.
type Level string

const (
	LevelUnavailable Level = Unavailable
	LevelNormal      Level = "NORMAL"
	LevelWarning     Level = "WARNING"
	LevelFault       Level = "FAULT"
)

// IsLevel reports whether s is one of the condition level keywords.
func IsLevel(s string) bool {
	switch Level(s) {
	case LevelUnavailable, LevelNormal, LevelWarning, LevelFault:
		return true
	}
	return false
}

// Alarm is one active entry of a Condition.
type Alarm struct {
	Level          Level
	NativeCode     string
	NativeSeverity string
	Qualifier      string
	Text           string
}

// alarm is the tracked form of an Alarm. A placeholder stands in for the
// whole condition when nothing is active (NORMAL) or nothing is known
// (UNAVAILABLE); it never carries a native code.
type alarm struct {
	owner       string
	Alarm
	placeholder bool
	marked      bool
	dirty       bool
	unsent      bool // raised since the last Cleanup
}

func (a *alarm) Render() string {
	return a.owner + "|" + string(a.Level) + "|" + a.NativeCode + "|" +
		a.NativeSeverity + "|" + a.Qualifier + "|" + a.Text
}

// Condition tracks zero or more simultaneously active alarms and supports
// per-cycle mark-and-sweep: alarms not re-asserted between Begin and Prepare
// are cleared.
type Condition struct {
	meta

	mu      sync.Mutex
	active  []*alarm
	begun   bool
	changed bool
	sent    Level // placeholder level after the last Cleanup; empty when alarms were active
}

// NewCondition creates a condition in the UNAVAILABLE state. Conditions are
// sent on their own line unless overridden.
func NewCondition(name string, opts ...Option) *Condition {
	c := &Condition{meta: newMeta(name, true, opts)}
	c.resetLocked(LevelUnavailable)
	return c
}

// resetLocked replaces every alarm with a single placeholder. Returning to
// the placeholder that was last sent is not a change.
func (c *Condition) resetLocked(level Level) {
	if len(c.active) == 1 && c.active[0].placeholder && c.active[0].Level == level {
		return
	}
	dirty := level != c.sent
	c.active = []*alarm{{
		owner:       c.name,
		Alarm:       Alarm{Level: level},
		placeholder: true,
		dirty:       dirty,
	}}
	c.changed = dirty
}

// Normal clears every active alarm.
func (c *Condition) Normal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(LevelNormal)
}

// Unavailable marks the whole condition as unknown.
func (c *Condition) Unavailable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(LevelUnavailable)
}

// Add asserts an alarm, or re-asserts one already active with the same
// native code. NORMAL with a native code clears only that code; NORMAL
// without one clears everything.
func (c *Condition) Add(level Level, text, nativeCode, nativeSeverity, qualifier string) {
	next := Alarm{
		Level:          level,
		NativeCode:     sanitize(nativeCode),
		NativeSeverity: sanitize(nativeSeverity),
		Qualifier:      sanitize(qualifier),
		Text:           sanitize(text),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case level == LevelUnavailable:
		c.resetLocked(LevelUnavailable)
		return
	case level == LevelNormal && next.NativeCode == "":
		c.resetLocked(LevelNormal)
		return
	case level == LevelNormal:
		c.clearLocked(next)
		return
	}

	if len(c.active) > 0 && c.active[0].placeholder {
		c.active = c.active[:0]
	}

	if a := c.findLocked(next.NativeCode); a != nil {
		a.marked = false
		if a.Alarm != next {
			a.Alarm = next
			a.dirty = true
			c.changed = true
		}
		return
	}

	c.active = append(c.active, &alarm{owner: c.name, Alarm: next, dirty: true, unsent: true})
	c.changed = true
}

// clearLocked moves the alarm with the same native code to NORMAL. Clearing
// the last active alarm collapses the condition to its NORMAL placeholder.
func (c *Condition) clearLocked(next Alarm) {
	a := c.findLocked(next.NativeCode)
	if a == nil || a.Level == LevelNormal {
		return
	}
	if c.activeCountLocked() == 1 {
		c.resetLocked(LevelNormal)
		return
	}
	if a.unsent {
		// never reached a reader, so there is nothing to clear
		c.removeLocked(a)
		return
	}
	a.Alarm = Alarm{Level: LevelNormal, NativeCode: a.NativeCode}
	a.marked = false
	a.dirty = true
	c.changed = true
}

func (c *Condition) removeLocked(target *alarm) {
	kept := c.active[:0]
	c.changed = false
	for _, a := range c.active {
		if a == target {
			continue
		}
		kept = append(kept, a)
		c.changed = c.changed || a.dirty
	}
	c.active = kept
}

func (c *Condition) findLocked(code string) *alarm {
	for _, a := range c.active {
		if !a.placeholder && a.NativeCode == code {
			return a
		}
	}
	return nil
}

// activeCountLocked counts alarms that are not placeholders or cleared.
func (c *Condition) activeCountLocked() int {
	n := 0
	for _, a := range c.active {
		if !a.placeholder && a.Level != LevelNormal {
			n++
		}
	}
	return n
}

// Active returns a copy of the alarms currently raised.
func (c *Condition) Active() []Alarm {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Alarm
	for _, a := range c.active {
		if !a.placeholder && a.Level != LevelNormal {
			out = append(out, a.Alarm)
		}
	}
	return out
}

// Begin marks every active alarm as unconfirmed for this cycle.
func (c *Condition) Begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.begun = true
	for _, a := range c.active {
		if !a.placeholder {
			a.marked = true
		}
	}
}

// Prepare sweeps alarms that were not re-asserted since Begin.
func (c *Condition) Prepare() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.begun {
		return
	}

	var swept []*alarm
	for _, a := range c.active {
		if a.marked && !a.placeholder && a.Level != LevelNormal {
			swept = append(swept, a)
		}
	}
	if len(swept) == 0 {
		return
	}
	if len(swept) == c.activeCountLocked() {
		c.resetLocked(LevelNormal)
		return
	}
	for _, a := range swept {
		a.Alarm = Alarm{Level: LevelNormal, NativeCode: a.NativeCode}
		a.marked = false
		a.dirty = true
	}
	c.changed = true
}

// Cleanup drops cleared alarms and resets change tracking for the next cycle.
func (c *Condition) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.active[:0]
	for _, a := range c.active {
		if !a.placeholder && a.Level == LevelNormal {
			continue
		}
		a.dirty = false
		a.marked = false
		a.unsent = false
		kept = append(kept, a)
	}
	c.active = kept
	if len(c.active) == 0 {
		c.resetLocked(LevelNormal)
		c.active[0].dirty = false
	}
	c.sent = ""
	if len(c.active) == 1 && c.active[0].placeholder {
		c.sent = c.active[0].Level
	}
	c.changed = false
	c.begun = false
}

func (c *Condition) Changed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

func (c *Condition) ItemList(all bool) []Renderer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Renderer
	for _, a := range c.active {
		if all && !a.placeholder && a.Level == LevelNormal {
			// cleared this cycle, not part of the current state
			continue
		}
		if all || a.dirty {
			snapshot := *a
			out = append(out, &snapshot)
		}
	}
	return out
}

func (c *Condition) dataItem() {}
