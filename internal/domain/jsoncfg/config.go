package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ModelConfig is persisted as JSONB on every workflow instance and fixes the
// provider models and output shape for all of its stages.
type ModelConfig struct {
	ImageModel        string `json:"image_model"`
	VideoModel        string `json:"video_model"`
	AspectRatio       string `json:"aspect_ratio"`
	Quality           string `json:"quality"`
	DurationSeconds   int    `json:"duration_seconds"`
	PhotoOnly         bool   `json:"photo_only,omitempty"`
	ClosingFrames     bool   `json:"closing_frames,omitempty"`
	AutoApproveVideos bool   `json:"auto_approve_videos,omitempty"`
}

// Inputs carries what the user submitted; which fields matter depends on the
// workflow kind.
type Inputs struct {
	ImageURLs            []string `json:"image_urls,omitempty"`
	CompetitorVideoURL   string   `json:"competitor_video_url,omitempty"`
	CharacterDescription string   `json:"character_description,omitempty"`
	Brief                string   `json:"brief,omitempty"`
	Locale               string   `json:"locale,omitempty"`
}

// Analysis is the structured output of the input analysis stage.
type Analysis struct {
	Summary    string   `json:"summary"`
	Audience   string   `json:"audience,omitempty"`
	Highlights []string `json:"highlights,omitempty"`
	Style      string   `json:"style,omitempty"`
}

// Prompts holds the drafted generation prompts of a single-artifact pipeline.
type Prompts struct {
	CoverPrompt    string `json:"cover_prompt"`
	VideoPrompt    string `json:"video_prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

// ScenePrompt is the structured scene description of one segment.
type ScenePrompt struct {
	Description string `json:"description"`
	Camera      string `json:"camera,omitempty"`
	Motion      string `json:"motion,omitempty"`
	Mood        string `json:"mood,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

var allowedAspectRatios = map[string]struct{}{
	"1:1":  {},
	"4:3":  {},
	"3:4":  {},
	"16:9": {},
	"9:16": {},
}

var allowedQualities = map[string]struct{}{
	"standard": {},
	"hd":       {},
}

const (
	// DefaultImageModel is used for cover and frame generation when unset.
	DefaultImageModel = "nano-banana"
	// DefaultVideoModel is used for clip generation when unset.
	DefaultVideoModel = "veo3_fast"
	// DefaultAspectRatio targets vertical short-form video.
	DefaultAspectRatio = "9:16"
	// DefaultQuality represents the baseline generation quality.
	DefaultQuality = "standard"
	// DefaultDurationSeconds is the clip length requested from video providers.
	DefaultDurationSeconds = 8
	// MaxDurationSeconds caps a single clip.
	MaxDurationSeconds = 10
	// DefaultLocale is applied when no locale preference is provided.
	DefaultLocale = "en"
)

// Normalize fills server defaults and clamps limits.
func (c *ModelConfig) Normalize() {
	if c == nil {
		return
	}
	c.ImageModel = strings.TrimSpace(c.ImageModel)
	if c.ImageModel == "" {
		c.ImageModel = DefaultImageModel
	}
	c.VideoModel = strings.TrimSpace(c.VideoModel)
	if c.VideoModel == "" {
		c.VideoModel = DefaultVideoModel
	}
	if c.AspectRatio == "" {
		c.AspectRatio = DefaultAspectRatio
	}
	c.Quality = strings.ToLower(strings.TrimSpace(c.Quality))
	if c.Quality == "" {
		c.Quality = DefaultQuality
	}
	if c.DurationSeconds <= 0 {
		c.DurationSeconds = DefaultDurationSeconds
	}
	if c.DurationSeconds > MaxDurationSeconds {
		c.DurationSeconds = MaxDurationSeconds
	}
}

// Validate ensures the config satisfies the contract before persistence.
func (c ModelConfig) Validate() error {
	if _, ok := allowedAspectRatios[c.AspectRatio]; !ok {
		return fmt.Errorf("aspect_ratio must be one of 1:1, 4:3, 3:4, 16:9, 9:16")
	}
	if _, ok := allowedQualities[c.Quality]; !ok {
		return fmt.Errorf("quality must be standard or hd")
	}
	return nil
}

// Normalize trims inputs and applies the preferred locale.
func (in *Inputs) Normalize(preferredLocale string) {
	if in == nil {
		return
	}
	urls := in.ImageURLs[:0]
	for _, u := range in.ImageURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	in.ImageURLs = urls
	in.CompetitorVideoURL = strings.TrimSpace(in.CompetitorVideoURL)
	in.CharacterDescription = strings.TrimSpace(in.CharacterDescription)
	in.Brief = strings.TrimSpace(in.Brief)
	if in.Locale == "" {
		if preferredLocale != "" {
			in.Locale = preferredLocale
		} else {
			in.Locale = DefaultLocale
		}
	}
}

// Empty reports whether the prompts were never drafted.
func (p Prompts) Empty() bool {
	return strings.TrimSpace(p.CoverPrompt) == "" && strings.TrimSpace(p.VideoPrompt) == ""
}

// Text flattens a scene prompt into a single provider prompt.
func (s ScenePrompt) Text() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{s.Description, s.Camera, s.Motion, s.Mood} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if c := strings.TrimSpace(s.Caption); c != "" {
		parts = append(parts, fmt.Sprintf("on-screen text: %q", c))
	}
	return strings.Join(parts, ". ")
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}

// Decode unmarshals raw JSON into dst, treating empty input as the zero value.
func Decode[T any](raw []byte) (T, error) {
	var out T
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("json decode: %w", err)
	}
	return out, nil
}
