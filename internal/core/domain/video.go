package domain

import "slices"

// Capabilities describes the optional features a provider supports.
type Capabilities struct {
	VoiceCloning       bool `json:"voice_cloning"        yaml:"voice_cloning"`
	CustomAvatars      bool `json:"custom_avatars"       yaml:"custom_avatars"`
	EmotionControl     bool `json:"emotion_control"      yaml:"emotion_control"`
	SpeedControl       bool `json:"speed_control"        yaml:"speed_control"`
	MaxDurationSeconds int  `json:"max_duration_seconds" yaml:"max_duration_seconds"` // 0 = unlimited
}

// Satisfies reports whether c offers every feature flagged in required.
// A required MaxDurationSeconds is treated as a minimum.
func (c Capabilities) Satisfies(required Capabilities) bool {
	if required.VoiceCloning && !c.VoiceCloning {
		return false
	}
	if required.CustomAvatars && !c.CustomAvatars {
		return false
	}
	if required.EmotionControl && !c.EmotionControl {
		return false
	}
	if required.SpeedControl && !c.SpeedControl {
		return false
	}
	if required.MaxDurationSeconds > 0 && c.MaxDurationSeconds > 0 &&
		c.MaxDurationSeconds < required.MaxDurationSeconds {
		return false
	}
	return true
}

// VideoOptions are the call options passed to a provider.
type VideoOptions struct {
	DurationSeconds int     `json:"duration_seconds,omitempty" yaml:"duration_seconds"`
	Resolution      string  `json:"resolution,omitempty"       yaml:"resolution"`   // e.g. 1080p, 720p
	Quality         float64 `json:"quality,omitempty"          yaml:"quality"`      // 0..1
	AvatarStyle     string  `json:"avatar_style,omitempty"     yaml:"avatar_style"` // realistic, stylized, simple
	VoiceCloning    bool    `json:"voice_cloning,omitempty"    yaml:"voice_cloning"`
	CustomAvatar    bool    `json:"custom_avatar,omitempty"    yaml:"custom_avatar"`
	Emotion         string  `json:"emotion,omitempty"          yaml:"emotion"`
	Speed           float64 `json:"speed,omitempty"            yaml:"speed"`
}

// VideoResult is the payload returned by a successful provider call.
type VideoResult struct {
	ProviderID      string            `json:"provider_id"`
	VideoURL        string            `json:"video_url"`
	DurationSeconds int               `json:"duration_seconds"`
	Resolution      string            `json:"resolution,omitempty"`
	Quality         float64           `json:"quality,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// SelectionCriteria drive provider selection.
type SelectionCriteria struct {
	Preferred string       `json:"preferred,omitempty"`
	Exclude   []string     `json:"exclude,omitempty"`
	Required  Capabilities `json:"required"`
	Tier      Tier         `json:"tier,omitempty"`
}

// Excludes reports whether providerID is in the exclusion list.
func (c SelectionCriteria) Excludes(providerID string) bool {
	return slices.Contains(c.Exclude, providerID)
}

// WithExcluded returns a copy of c with providerID appended to Exclude.
func (c SelectionCriteria) WithExcluded(providerID string) SelectionCriteria {
	if c.Excludes(providerID) {
		return c
	}
	out := c
	out.Exclude = append(slices.Clone(c.Exclude), providerID)
	return out
}

// Tier is the caller's subscription tier.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Priority returns the queue priority for the tier (higher runs first).
func (t Tier) Priority() int {
	switch t {
	case TierEnterprise:
		return 4
	case TierPremium:
		return 3
	case TierBasic:
		return 2
	case TierFree:
		return 1
	default:
		return 0
	}
}
