package generation

import "fmt"

// Mode selects the generation task sent to the studio backend. Each mode
// determines which form fields are required before submission and which
// fields are included in the outgoing payload.
type Mode string

const (
	Text2Music  Mode = "text2music"
	Audio2Audio Mode = "audio2audio"
	Cover       Mode = "cover"
	Repaint     Mode = "repaint"
	Extend      Mode = "extend"
	Lego        Mode = "lego"
	Extract     Mode = "extract"
	Complete    Mode = "complete"
)

var modes = map[Mode]bool{
	Text2Music:  true,
	Audio2Audio: true,
	Cover:       true,
	Repaint:     true,
	Extend:      true,
	Lego:        true,
	Extract:     true,
	Complete:    true,
}

func (m Mode) Valid() bool {
	return modes[m]
}

// RequiresSourceAudio reports whether the mode operates on an existing
// track and can't be submitted without a source audio URL.
func (m Mode) RequiresSourceAudio() bool {
	switch m {
	case Cover, Repaint, Extend, Lego, Extract, Complete:
		return true
	}
	return false
}

// RequiresReferenceAudio reports whether the mode needs a style
// reference track.
func (m Mode) RequiresReferenceAudio() bool {
	return m == Audio2Audio
}

// RequiresBaseModel reports whether the mode needs the Base model family
// installed on the backend. Checked against the model registry before
// submission.
func (m Mode) RequiresBaseModel() bool {
	switch m {
	case Lego, Extract, Complete:
		return true
	}
	return false
}

// usesRepaintWindow reports whether repainting offsets belong in the
// payload for this mode.
func (m Mode) usesRepaintWindow() bool {
	return m == Repaint
}

// usesSourceInfluence reports whether the source-influence strength
// belongs in the payload for this mode.
func (m Mode) usesSourceInfluence() bool {
	switch m {
	case Audio2Audio, Cover, Repaint, Extend:
		return true
	}
	return false
}

// Resolve applies the mode-reset transition: an audio-dependent mode with
// no reference and no source audio falls back to text2music, so the form
// can't get stuck in a mode whose inputs were cleared.
func Resolve(m Mode, referenceAudio, sourceAudio string) Mode {
	if m == Text2Music {
		return m
	}
	if referenceAudio == "" && sourceAudio == "" {
		return Text2Music
	}
	return m
}

// FieldError is a local validation failure. It is raised before any
// network call and never reaches the backend.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("generation: %s: %s", e.Field, e.Reason)
}

// Validate checks the per-mode required fields and cross-field rules.
func Validate(f *FormState) error {
	mode := Resolve(f.Mode, f.ReferenceAudio, f.SourceAudio)
	if !mode.Valid() {
		return &FieldError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", f.Mode)}
	}
	if mode.RequiresSourceAudio() && f.SourceAudio == "" {
		return &FieldError{Field: "source_audio", Reason: "source audio required"}
	}
	if mode.RequiresReferenceAudio() && f.ReferenceAudio == "" {
		return &FieldError{Field: "reference_audio", Reason: "reference audio required"}
	}
	if mode == Cover && f.Caption == "" {
		return &FieldError{Field: "caption", Reason: "caption required for cover"}
	}
	if mode == Repaint && f.RepaintEnd != -1 && f.RepaintEnd < f.RepaintStart {
		return &FieldError{Field: "repainting_end", Reason: "end offset before start offset"}
	}
	if mode == Lego && f.TrackType == "" {
		return &FieldError{Field: "track_type", Reason: "track type required for lego"}
	}
	return nil
}
