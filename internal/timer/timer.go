package timer

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timer keys. The set is fixed: the three timers always exist and are never
// created or destroyed individually.
const (
	KeySegment = "segment"
	KeyTarget  = "target"
	KeyElapsed = "elapsed"
)

// ValidKey reports whether key names one of the three timers.
func ValidKey(key string) bool {
	return key == KeySegment || key == KeyTarget || key == KeyElapsed
}

// Segment is a countdown for the current program segment. Remaining is signed:
// under the overrun policy it counts below zero down to the configured floor.
type Segment struct {
	Duration  int  `json:"duration"`
	Remaining int  `json:"remaining"`
	Running   bool `json:"running"`
}

// Target counts down to a fixed wall-clock time of day. It has no running
// flag: remaining is recomputed from the wall clock on every tick.
type Target struct {
	TargetTime string `json:"targetTime"`
	Remaining  int    `json:"remaining"`
}

// Elapsed is a free-running up-counter for total session duration.
type Elapsed struct {
	Seconds int  `json:"seconds"`
	Running bool `json:"running"`
}

// Set holds the three timer instances.
type Set struct {
	Segment Segment `json:"segment"`
	Target  Target  `json:"target"`
	Elapsed Elapsed `json:"elapsed"`
}

// Policy controls tick behavior for the segment and elapsed timers.
type Policy struct {
	// StopAtZero clamps the segment timer at zero and stops it. When false
	// the timer overruns into negative values down to OverrunFloor.
	StopAtZero bool
	// OverrunFloor is the most negative value the segment timer may reach
	// under the overrun policy. Values at the floor freeze, they do not
	// auto-stop.
	OverrunFloor int
	// ElapsedCap is the maximum value of the elapsed timer before it
	// auto-stops.
	ElapsedCap int
}

// DefaultPolicy matches the behavior of the original control room: segment
// timers stop at zero, elapsed timers cap at ten hours.
func DefaultPolicy() Policy {
	return Policy{
		StopAtZero:   true,
		OverrunFloor: -1800,
		ElapsedCap:   36000,
	}
}

// DefaultSet returns the boot-time timer set.
func DefaultSet() Set {
	return Set{
		Segment: Segment{Duration: 1200, Remaining: 1200},
		Target:  Target{TargetTime: "12:00"},
		Elapsed: Elapsed{},
	}
}

// Engine advances a Set by exactly one second per tick. It is not safe for
// concurrent use: the hub's event loop is its sole owner.
type Engine struct {
	Set    Set
	Policy Policy
}

// NewEngine creates an engine around an existing set, e.g. one restored from
// a snapshot.
func NewEngine(set Set, policy Policy) *Engine {
	return &Engine{Set: set, Policy: policy}
}

// Tick advances the set by one second. now is the wall-clock instant of the
// tick and drives the target timer, which recomputes from the clock each tick
// and therefore self-corrects after stalls.
func (e *Engine) Tick(now time.Time) {
	e.tickSegment()
	e.tickElapsed()
	e.tickTarget(now)
}

func (e *Engine) tickSegment() {
	seg := &e.Set.Segment
	if !seg.Running {
		return
	}
	if e.Policy.StopAtZero {
		if seg.Remaining > 0 {
			seg.Remaining--
		}
		if seg.Remaining <= 0 {
			seg.Remaining = 0
			seg.Running = false
		}
		return
	}
	if seg.Remaining > e.Policy.OverrunFloor {
		seg.Remaining--
	}
}

func (e *Engine) tickElapsed() {
	el := &e.Set.Elapsed
	if !el.Running {
		return
	}
	el.Seconds++
	if el.Seconds >= e.Policy.ElapsedCap {
		el.Seconds = e.Policy.ElapsedCap
		el.Running = false
	}
}

func (e *Engine) tickTarget(now time.Time) {
	instant, err := NextTargetInstant(e.Set.Target.TargetTime, now)
	if err != nil {
		// Malformed target time must not kill the tick loop; hold the
		// last good remaining value until the operator fixes it.
		return
	}
	e.Set.Target.Remaining = int(instant.Sub(now) / time.Second)
}

// NextTargetInstant resolves hhmm as today's occurrence of that wall-clock
// time, or tomorrow's if it has already passed.
func NextTargetInstant(hhmm string, now time.Time) (time.Time, error) {
	h, m, err := ParseTargetTime(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	instant := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
	if instant.Before(now) {
		instant = instant.AddDate(0, 0, 1)
	}
	return instant, nil
}

// ParseTargetTime parses an "HH:MM" clock time.
func ParseTargetTime(hhmm string) (hour, minute int, err error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("target time %q is not HH:MM", hhmm)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("target time %q has a non-numeric hour", hhmm)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("target time %q has a non-numeric minute", hhmm)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("target time %q is out of range", hhmm)
	}
	return hour, minute, nil
}

// Reset returns the named timer to its idle state: segment back to full
// duration, elapsed back to zero, both stopped. Resetting the target timer is
// a no-op since it has nothing to reset.
func (e *Engine) Reset(key string) {
	switch key {
	case KeySegment:
		e.Set.Segment.Remaining = e.Set.Segment.Duration
		e.Set.Segment.Running = false
	case KeyElapsed:
		e.Set.Elapsed.Seconds = 0
		e.Set.Elapsed.Running = false
	}
}

// ResetAll resets the segment and elapsed timers. The target timer keeps
// counting toward its wall-clock target.
func (e *Engine) ResetAll() {
	e.Reset(KeySegment)
	e.Reset(KeyElapsed)
}
