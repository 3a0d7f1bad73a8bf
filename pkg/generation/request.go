package generation

import (
	"fmt"
	"math/rand"
)

// FormState holds the raw control values of the creation form. It is the
// input of Build and is never sent to the backend as-is.
type FormState struct {
	Mode Mode

	// Identity and text.
	Title        string
	Caption      string
	Lyrics       string
	Instrumental bool
	Language     string

	// Musical hints.
	BPM           int
	KeyScale      string
	TimeSignature string

	// Sampling controls.
	Duration    float64
	InferSteps  int
	Guidance    float64
	InferMethod string
	Shift       float64
	Seed        int64
	RandomSeed  bool
	BatchSize   int
	BulkCount   int

	// Audio conditioning.
	ReferenceAudio  string
	SourceAudio     string
	BlendAudio      string
	SourceInfluence float64
	RepaintStart    float64
	RepaintEnd      float64
	TrackType       string

	// Simple authoring mode sliders, 0-100.
	Simple         bool
	Weirdness      int
	StyleInfluence int
	AudioInfluence int

	// LM controls.
	Thinking       bool
	Temperature    float64
	CFG            float64
	TopK           int
	TopP           float64
	NegativePrompt string
	MetadataCoT    bool
	CaptionCoT     bool
	LanguageCoT    bool
	BatchedLM      bool

	// Output controls.
	Format          string
	Adapter         string
	AdapterStrength float64
}

// Request is the canonical generation payload. Fields irrelevant to the
// selected mode are left unset so they are omitted from the JSON and the
// backend can't misread stale values from a previously selected mode.
type Request struct {
	Mode Mode `json:"task"`

	Title        string `json:"title,omitempty"`
	Caption      string `json:"caption,omitempty"`
	Lyrics       string `json:"lyrics,omitempty"`
	Instrumental bool   `json:"instrumental"`
	Language     string `json:"vocal_language,omitempty"`

	BPM           int    `json:"bpm,omitempty"`
	KeyScale      string `json:"key_scale,omitempty"`
	TimeSignature string `json:"time_signature,omitempty"`

	Duration    float64 `json:"duration"`
	InferSteps  int     `json:"infer_steps"`
	Guidance    float64 `json:"guidance_scale"`
	InferMethod string  `json:"infer_method"`
	Shift       float64 `json:"shift"`
	Seed        int64   `json:"seed"`
	RandomSeed  bool    `json:"random_seed"`
	BatchSize   int     `json:"batch_size"`

	ReferenceAudio  string   `json:"reference_audio,omitempty"`
	SourceAudio     string   `json:"src_audio,omitempty"`
	BlendAudio      string   `json:"blend_audio,omitempty"`
	SourceInfluence *float64 `json:"audio_influence,omitempty"`
	RepaintStart    *float64 `json:"repainting_start,omitempty"`
	RepaintEnd      *float64 `json:"repainting_end,omitempty"`
	Instruction     string   `json:"instruction,omitempty"`

	Thinking       bool    `json:"thinking,omitempty"`
	Temperature    float64 `json:"lm_temperature,omitempty"`
	CFG            float64 `json:"lm_cfg,omitempty"`
	TopK           int     `json:"lm_top_k,omitempty"`
	TopP           float64 `json:"lm_top_p,omitempty"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	MetadataCoT    bool    `json:"use_metadata_cot,omitempty"`
	CaptionCoT     bool    `json:"use_caption_cot,omitempty"`
	LanguageCoT    bool    `json:"use_language_cot,omitempty"`
	BatchedLM      bool    `json:"allow_batched_lm,omitempty"`

	Format          string  `json:"format"`
	Adapter         string  `json:"adapter,omitempty"`
	AdapterStrength float64 `json:"adapter_strength,omitempty"`
}

const (
	minGuidance       = 1.0
	maxGuidance       = 15.0
	minSimpleGuidance = 2.0
	maxSimpleGuidance = 10.0
	minShift          = 1.0
	maxShift          = 5.0
	minDuration       = 10.0
	maxDuration       = 600.0
	maxBPM            = 300
	maxBatchSize      = 8
	maxAdapterWeight  = 2.0
)

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// SimpleParams are the sampling values derived from the Simple-mode
// sliders. The derivation is a pure function of its inputs.
type SimpleParams struct {
	Guidance        float64
	SourceInfluence float64
	Temperature     float64
}

// DeriveSimple maps the three 0-100 influence sliders onto the
// underlying sampling parameters. The constants are product tuning
// carried over from the creation form and are in effect only while the
// form is in Simple mode.
func DeriveSimple(f *FormState) SimpleParams {
	weird := float64(f.Weirdness) / 100.0
	style := float64(f.StyleInfluence) / 100.0

	guidance := f.Guidance * (0.5 + style) * (1 - 0.35*weird)
	guidance = clamp(guidance, minSimpleGuidance, maxSimpleGuidance)

	influence := f.SourceInfluence
	if f.ReferenceAudio != "" || f.SourceAudio != "" {
		influence = float64(f.AudioInfluence) / 100.0
	}

	temperature := f.Temperature
	if f.Thinking {
		temperature = 0.7 + 0.5*weird
	}

	return SimpleParams{
		Guidance:        guidance,
		SourceInfluence: influence,
		Temperature:     temperature,
	}
}

// Build validates and normalizes the form into a single canonical
// request. It never performs I/O; validation failures are returned to
// the caller before anything is dispatched.
func Build(f *FormState) (*Request, error) {
	if err := Validate(f); err != nil {
		return nil, err
	}
	mode := Resolve(f.Mode, f.ReferenceAudio, f.SourceAudio)

	req := &Request{
		Mode:         mode,
		Title:        f.Title,
		Caption:      f.Caption,
		Lyrics:       f.Lyrics,
		Instrumental: f.Instrumental,
		Language:     f.Language,
	}

	// Empty lyrics mean instrumental unless the toggle says otherwise.
	if f.Lyrics == "" && !f.Instrumental {
		req.Instrumental = true
	}
	if f.Instrumental {
		req.Lyrics = ""
	}

	// Musical hints, zero means auto.
	if f.BPM > 0 {
		bpm := f.BPM
		if bpm > maxBPM {
			bpm = maxBPM
		}
		req.BPM = bpm
	}
	req.KeyScale = f.KeyScale
	req.TimeSignature = f.TimeSignature

	// Sampling controls.
	req.Duration = f.Duration
	if req.Duration != -1 {
		req.Duration = clamp(req.Duration, minDuration, maxDuration)
	}
	req.InferSteps = f.InferSteps
	req.Guidance = clamp(f.Guidance, minGuidance, maxGuidance)
	req.InferMethod = f.InferMethod
	if req.InferMethod == "" {
		req.InferMethod = "ode"
	}
	req.Shift = clamp(f.Shift, minShift, maxShift)
	req.Seed = f.Seed
	req.RandomSeed = f.RandomSeed || f.Seed == -1
	req.BatchSize = f.BatchSize
	if req.BatchSize < 1 {
		req.BatchSize = 1
	}
	if req.BatchSize > maxBatchSize {
		req.BatchSize = maxBatchSize
	}

	// LM controls.
	req.Thinking = f.Thinking
	req.Temperature = f.Temperature
	req.CFG = f.CFG
	req.TopK = f.TopK
	req.TopP = f.TopP
	req.NegativePrompt = f.NegativePrompt
	req.MetadataCoT = f.MetadataCoT
	req.CaptionCoT = f.CaptionCoT
	req.LanguageCoT = f.LanguageCoT
	req.BatchedLM = f.BatchedLM

	influence := f.SourceInfluence

	if f.Simple {
		p := DeriveSimple(f)
		req.Guidance = p.Guidance
		req.Temperature = p.Temperature
		influence = p.SourceInfluence
	}

	// Audio conditioning, shaped per mode.
	req.ReferenceAudio = f.ReferenceAudio
	if mode.RequiresSourceAudio() {
		req.SourceAudio = f.SourceAudio
		req.BlendAudio = f.BlendAudio
	}
	if mode.usesSourceInfluence() {
		v := clamp(influence, 0, 1)
		req.SourceInfluence = &v
	}
	if mode.usesRepaintWindow() {
		start := f.RepaintStart
		end := f.RepaintEnd
		req.RepaintStart = &start
		req.RepaintEnd = &end
	}
	if mode == Lego {
		req.Instruction = legoInstruction(f.TrackType, f.Caption)
		req.Caption = ""
	}

	// Output controls.
	req.Format = f.Format
	if req.Format == "" {
		req.Format = "mp3"
	}
	req.Adapter = f.Adapter
	if f.Adapter != "" {
		req.AdapterStrength = clamp(f.AdapterStrength, 0, maxAdapterWeight)
	}

	return req, nil
}

// legoInstruction synthesizes the backend instruction for a lego task
// from the selected track type plus the optional free-text caption.
func legoInstruction(trackType, caption string) string {
	instruction := fmt.Sprintf("Generate the %s track based on the audio context:", trackType)
	if caption != "" {
		instruction += " " + caption
	}
	return instruction
}

// BuildSet fans one submission out into BulkCount requests. The first
// request keeps the user's seed settings verbatim; every later request
// is forced to a fresh random seed so the batch stays varied. Titles get
// an ordinal suffix when more than one request is built. The bulk count
// is reset to one after building: it does not persist across
// submissions.
func BuildSet(f *FormState, rng *rand.Rand) ([]*Request, error) {
	n := f.BulkCount
	if n < 1 {
		n = 1
	}
	f.BulkCount = 1

	base, err := Build(f)
	if err != nil {
		return nil, err
	}
	if n == 1 {
		return []*Request{base}, nil
	}

	reqs := make([]*Request, 0, n)
	for i := 0; i < n; i++ {
		req := *base
		if base.Title != "" {
			req.Title = fmt.Sprintf("%s (%d)", base.Title, i+1)
		}
		if i > 0 {
			req.RandomSeed = true
			req.Seed = int64(rng.Int31())
		}
		if base.SourceInfluence != nil {
			v := *base.SourceInfluence
			req.SourceInfluence = &v
		}
		if base.RepaintStart != nil {
			v := *base.RepaintStart
			req.RepaintStart = &v
		}
		if base.RepaintEnd != nil {
			v := *base.RepaintEnd
			req.RepaintEnd = &v
		}
		reqs = append(reqs, &req)
	}
	return reqs, nil
}
