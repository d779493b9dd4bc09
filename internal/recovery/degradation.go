package recovery

import "github.com/vietddude/failover/internal/core/domain"

// DegradationStep is one rung of the degradation ladder. Zero fields leave
// the option untouched.
type DegradationStep struct {
	Quality            float64 `yaml:"quality"              json:"quality"`
	Resolution         string  `yaml:"resolution"           json:"resolution"`
	MaxDurationSeconds int     `yaml:"max_duration_seconds" json:"max_duration_seconds"`
	AvatarStyle        string  `yaml:"avatar_style"         json:"avatar_style"`
	DropVoiceCloning   bool    `yaml:"drop_voice_cloning"   json:"drop_voice_cloning"`
	DropCustomAvatar   bool    `yaml:"drop_custom_avatar"   json:"drop_custom_avatar"`
	DropEmotion        bool    `yaml:"drop_emotion"         json:"drop_emotion"`
	ResetSpeed         bool    `yaml:"reset_speed"          json:"reset_speed"`
}

// DefaultDegradationSteps is used when no ladder is configured.
var DefaultDegradationSteps = []DegradationStep{
	{Quality: 0.8, Resolution: "720p"},
	{Quality: 0.7, Resolution: "720p", MaxDurationSeconds: 120, AvatarStyle: "stylized", DropEmotion: true},
	{
		Quality:            0.5,
		Resolution:         "480p",
		MaxDurationSeconds: 60,
		AvatarStyle:        "simple",
		DropVoiceCloning:   true,
		DropCustomAvatar:   true,
		DropEmotion:        true,
		ResetSpeed:         true,
	},
}

// DegradationPolicy reduces call options step by step.
type DegradationPolicy struct {
	steps []DegradationStep
}

// NewDegradationPolicy creates a policy. An empty ladder uses
// DefaultDegradationSteps.
func NewDegradationPolicy(steps []DegradationStep) *DegradationPolicy {
	if len(steps) == 0 {
		steps = DefaultDegradationSteps
	}
	return &DegradationPolicy{steps: steps}
}

// Levels returns the number of rungs.
func (p *DegradationPolicy) Levels() int { return len(p.steps) }

// Degrade applies the first level rungs cumulatively.
func (p *DegradationPolicy) Degrade(opts domain.VideoOptions, level int) domain.VideoOptions {
	level = min(level, len(p.steps))
	for i := 0; i < level; i++ {
		opts = p.steps[i].apply(opts)
	}
	return opts
}

// DegradeWithin applies up to level rungs, stopping before a rung whose
// quality would drop below minQuality. It returns the options and the level
// actually applied.
func (p *DegradationPolicy) DegradeWithin(
	opts domain.VideoOptions,
	level int,
	minQuality float64,
) (domain.VideoOptions, int) {
	applied := 0
	for i := 0; i < min(level, len(p.steps)); i++ {
		step := p.steps[i]
		if step.Quality > 0 && step.Quality < minQuality {
			break
		}
		opts = step.apply(opts)
		applied++
	}
	return opts, applied
}

// MaxDegrade reduces opts as far as minQuality allows.
func (p *DegradationPolicy) MaxDegrade(opts domain.VideoOptions, minQuality float64) domain.VideoOptions {
	out, _ := p.DegradeWithin(opts, len(p.steps), minQuality)
	return out
}

// AdjustForCapabilities drops options the provider does not support and
// clips the duration to its maximum.
func AdjustForCapabilities(opts domain.VideoOptions, caps domain.Capabilities) domain.VideoOptions {
	if !caps.VoiceCloning {
		opts.VoiceCloning = false
	}
	if !caps.CustomAvatars {
		opts.CustomAvatar = false
	}
	if !caps.EmotionControl {
		opts.Emotion = ""
	}
	if !caps.SpeedControl {
		opts.Speed = 0
	}
	if caps.MaxDurationSeconds > 0 && opts.DurationSeconds > caps.MaxDurationSeconds {
		opts.DurationSeconds = caps.MaxDurationSeconds
	}
	return opts
}

func (s DegradationStep) apply(opts domain.VideoOptions) domain.VideoOptions {
	if s.Quality > 0 && (opts.Quality == 0 || s.Quality < opts.Quality) {
		opts.Quality = s.Quality
	}
	if s.Resolution != "" {
		opts.Resolution = s.Resolution
	}
	if s.MaxDurationSeconds > 0 && (opts.DurationSeconds == 0 || opts.DurationSeconds > s.MaxDurationSeconds) {
		opts.DurationSeconds = s.MaxDurationSeconds
	}
	if s.AvatarStyle != "" {
		opts.AvatarStyle = s.AvatarStyle
	}
	if s.DropVoiceCloning {
		opts.VoiceCloning = false
	}
	if s.DropCustomAvatar {
		opts.CustomAvatar = false
	}
	if s.DropEmotion {
		opts.Emotion = ""
	}
	if s.ResetSpeed {
		opts.Speed = 0
	}
	return opts
}
