package scene

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

// NullableString is a tri-state optional: absent from the JSON means "no
// change", an explicit null means "clear", a string means "set". Callers must
// distinguish the first two, so a plain pointer is not enough.
type NullableString struct {
	Set   bool
	Value *string
}

// IsZero lets encoding/json's omitzero drop unset fields.
func (n NullableString) IsZero() bool { return !n.Set }

func (n NullableString) MarshalJSON() ([]byte, error) {
	if n.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*n.Value)
}

func (n *NullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(data, []byte("null")) {
		n.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n.Value = &s
	return nil
}

// Patch is an explicit partial update for the scene. Nil pointer fields mean
// "no change".
type Patch struct {
	Background   NullableString `json:"background,omitzero"`
	OverlayText  *string        `json:"overlayText,omitempty"`
	TimerVisible *bool          `json:"timerVisible,omitempty"`
	ChromaKey    *bool          `json:"chromaKey,omitempty"`
	Theme        *string        `json:"theme,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return !p.Background.Set && p.OverlayText == nil && p.TimerVisible == nil &&
		p.ChromaKey == nil && p.Theme == nil
}

// Normalize enforces boundary rules, truncating overlay text beyond the cap.
// The cut backs up to a rune boundary so truncation never produces invalid
// UTF-8. It returns the patch for chaining.
func (p Patch) Normalize() Patch {
	if p.OverlayText != nil && len(*p.OverlayText) > MaxOverlayText {
		cut := MaxOverlayText
		for cut > 0 && !utf8.RuneStart((*p.OverlayText)[cut]) {
			cut--
		}
		truncated := (*p.OverlayText)[:cut]
		p.OverlayText = &truncated
	}
	return p
}
