package timer

import "fmt"

// Patch is an explicit partial update for one timer. Nil fields mean "no
// change". Which fields are legal depends on the timer key; Validate enforces
// that before a patch ever reaches a Set.
type Patch struct {
	Duration   *int    `json:"duration,omitempty"`
	Remaining  *int    `json:"remaining,omitempty"`
	Running    *bool   `json:"running,omitempty"`
	TargetTime *string `json:"targetTime,omitempty"`
	Seconds    *int    `json:"seconds,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Duration == nil && p.Remaining == nil && p.Running == nil &&
		p.TargetTime == nil && p.Seconds == nil
}

// Validate checks the patch against the named timer. Invalid values never
// reach the engine.
func (p Patch) Validate(key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("unknown timer key %q", key)
	}
	if p.IsZero() {
		return fmt.Errorf("empty patch for timer %q", key)
	}
	switch key {
	case KeySegment:
		if p.TargetTime != nil || p.Seconds != nil {
			return fmt.Errorf("segment timer has no targetTime or seconds field")
		}
		if p.Duration != nil && *p.Duration < 0 {
			return fmt.Errorf("duration must be non-negative, got %d", *p.Duration)
		}
	case KeyTarget:
		if p.Duration != nil || p.Remaining != nil || p.Seconds != nil {
			return fmt.Errorf("target timer only accepts targetTime")
		}
		// Running is tolerated but ignored: the target timer has no
		// running flag, so toggling it is a no-op.
		if p.TargetTime != nil {
			if _, _, err := ParseTargetTime(*p.TargetTime); err != nil {
				return err
			}
		}
	case KeyElapsed:
		if p.Duration != nil || p.TargetTime != nil {
			return fmt.Errorf("elapsed timer has no duration or targetTime field")
		}
		if p.Seconds != nil && *p.Seconds < 0 {
			return fmt.Errorf("seconds must be non-negative, got %d", *p.Seconds)
		}
	}
	return nil
}

// Apply merges a validated patch into the named timer. Setting a segment
// duration without an explicit remaining resets progress: duration and
// remaining are rewritten together.
func (s *Set) Apply(key string, p Patch) {
	switch key {
	case KeySegment:
		if p.Duration != nil {
			s.Segment.Duration = *p.Duration
			s.Segment.Remaining = *p.Duration
		}
		if p.Remaining != nil {
			s.Segment.Remaining = *p.Remaining
		}
		if p.Running != nil {
			s.Segment.Running = *p.Running
		}
	case KeyTarget:
		if p.TargetTime != nil {
			s.Target.TargetTime = *p.TargetTime
		}
	case KeyElapsed:
		if p.Seconds != nil {
			s.Elapsed.Seconds = *p.Seconds
		}
		if p.Running != nil {
			s.Elapsed.Running = *p.Running
		}
	}
}

// FullPatch captures the named timer's complete current value as a patch.
// Undo replay uses this to re-issue a prior state as a normal mutation.
func (s Set) FullPatch(key string) Patch {
	switch key {
	case KeySegment:
		d, r, run := s.Segment.Duration, s.Segment.Remaining, s.Segment.Running
		// Remaining after Duration so the duration-reset rule cannot
		// clobber the captured progress.
		return Patch{Duration: &d, Remaining: &r, Running: &run}
	case KeyTarget:
		t := s.Target.TargetTime
		return Patch{TargetTime: &t}
	case KeyElapsed:
		sec, run := s.Elapsed.Seconds, s.Elapsed.Running
		return Patch{Seconds: &sec, Running: &run}
	}
	return Patch{}
}
