// Package scene holds the singleton on-air visual configuration and the
// patch type used to mutate it.
package scene

// MaxOverlayText is the overlay text length cap, enforced at every boundary
// that accepts a patch.
const MaxOverlayText = 255

// Scene is the active visual configuration shown on output displays.
// Background is a nullable opaque media path; the engine never interprets
// file contents.
type Scene struct {
	Background   *string `json:"background"`
	OverlayText  string  `json:"overlayText"`
	TimerVisible bool    `json:"timerVisible"`
	ChromaKey    bool    `json:"chromaKey"`
	Theme        string  `json:"theme"`
}

// Default returns the boot-time scene.
func Default() Scene {
	return Scene{
		Background:   nil,
		OverlayText:  "",
		TimerVisible: true,
		ChromaKey:    false,
		Theme:        "midnight",
	}
}

// Clone returns a deep copy, safe to mutate independently. Used by the
// staging workspace and by undo capture.
func (s Scene) Clone() Scene {
	out := s
	if s.Background != nil {
		bg := *s.Background
		out.Background = &bg
	}
	return out
}

// Apply shallow-merges a patch into the scene. Unset fields are unchanged;
// an explicit null background clears it. The patch must already be
// normalized.
func (s *Scene) Apply(p Patch) {
	if p.Background.Set {
		if p.Background.Value == nil {
			s.Background = nil
		} else {
			bg := *p.Background.Value
			s.Background = &bg
		}
	}
	if p.OverlayText != nil {
		s.OverlayText = *p.OverlayText
	}
	if p.TimerVisible != nil {
		s.TimerVisible = *p.TimerVisible
	}
	if p.ChromaKey != nil {
		s.ChromaKey = *p.ChromaKey
	}
	if p.Theme != nil {
		s.Theme = *p.Theme
	}
}

// FullPatch captures the scene's complete current value as a patch, with the
// background set explicitly (null when cleared). Undo replay and "go live"
// both send a scene this way.
func (s Scene) FullPatch() Patch {
	text := s.OverlayText
	visible := s.TimerVisible
	chroma := s.ChromaKey
	theme := s.Theme
	p := Patch{
		Background:   NullableString{Set: true},
		OverlayText:  &text,
		TimerVisible: &visible,
		ChromaKey:    &chroma,
		Theme:        &theme,
	}
	if s.Background != nil {
		bg := *s.Background
		p.Background.Value = &bg
	}
	return p
}
