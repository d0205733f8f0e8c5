package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type QualityPreset string

const (
	QualityLow     QualityPreset = "Low"
	QualityMedium  QualityPreset = "Medium"
	QualityHigh    QualityPreset = "High"
	QualityUltra   QualityPreset = "Ultra"
	QualityExtreme QualityPreset = "Extreme"
)

// QualityPresets is ordered from lowest to highest.
var QualityPresets = []QualityPreset{QualityLow, QualityMedium, QualityHigh, QualityUltra, QualityExtreme}

// bitrateFloorsKbps is the minimum bitrate for each preset.
var bitrateFloorsKbps = map[QualityPreset]int{
	QualityLow:     2000,
	QualityMedium:  3000,
	QualityHigh:    5000,
	QualityUltra:   8000,
	QualityExtreme: 15000,
}

// bitsPerPixel drives the resolution based bitrate estimate.
var bitsPerPixel = map[QualityPreset]float64{
	QualityLow:     0.05,
	QualityMedium:  0.07,
	QualityHigh:    0.1,
	QualityUltra:   0.12,
	QualityExtreme: 0.15,
}

// maxHeights caps the encoded height per preset; 0 keeps the native size.
var maxHeights = map[QualityPreset]int{
	QualityLow:     480,
	QualityMedium:  720,
	QualityHigh:    1080,
	QualityUltra:   1440,
	QualityExtreme: 0,
}

func (p QualityPreset) BitrateFloorKbps() int {
	return bitrateFloorsKbps[p]
}

func (p QualityPreset) MaxHeight() int {
	return maxHeights[p]
}

func (p QualityPreset) Rank() int {
	for i, preset := range QualityPresets {
		if preset == p {
			return i
		}
	}
	return -1
}

// Lower returns the next preset down, or p itself at the bottom.
func (p QualityPreset) Lower() QualityPreset {
	if r := p.Rank(); r > 0 {
		return QualityPresets[r-1]
	}
	return p
}

// Higher returns the next preset up, or p itself at the top.
func (p QualityPreset) Higher() QualityPreset {
	if r := p.Rank(); r >= 0 && r < len(QualityPresets)-1 {
		return QualityPresets[r+1]
	}
	return p
}

// PresetForScore buckets a 0-100 score.
func PresetForScore(score int) QualityPreset {
	switch {
	case score <= 40:
		return QualityLow
	case score <= 65:
		return QualityMedium
	case score <= 85:
		return QualityHigh
	case score <= 95:
		return QualityUltra
	default:
		return QualityExtreme
	}
}

// Quality is a named preset, a free-text label or a numeric score.
type Quality struct {
	Preset QualityPreset
	Label  string
	Score  *int
}

func PresetQuality(p QualityPreset) Quality {
	return Quality{Preset: p}
}

func ScoreQuality(score int) Quality {
	return Quality{Score: &score}
}

// ParseQuality matches preset names case-insensitively and keeps anything
// else as a free-text label.
func ParseQuality(s string) Quality {
	trimmed := strings.TrimSpace(s)
	for _, p := range QualityPresets {
		if strings.EqualFold(trimmed, string(p)) {
			return Quality{Preset: p}
		}
	}
	return Quality{Label: trimmed}
}

// Resolve returns the preset the quality maps to. Unrecognised labels and
// the zero value resolve to Medium.
func (q Quality) Resolve() QualityPreset {
	switch {
	case q.Score != nil:
		return PresetForScore(*q.Score)
	case q.Preset != "":
		return q.Preset
	default:
		return QualityMedium
	}
}

func (q Quality) String() string {
	switch {
	case q.Score != nil:
		return fmt.Sprintf("%d", *q.Score)
	case q.Preset != "":
		return string(q.Preset)
	default:
		return q.Label
	}
}

func (q Quality) Validate() error {
	if q.Score != nil && (*q.Score < 0 || *q.Score > 100) {
		return fmt.Errorf("%w: quality score %d outside 0-100", ErrInputValidation, *q.Score)
	}
	return nil
}

func (q Quality) MarshalJSON() ([]byte, error) {
	if q.Score != nil {
		return json.Marshal(*q.Score)
	}
	return json.Marshal(q.String())
}

func (q *Quality) UnmarshalJSON(data []byte) error {
	var score int
	if err := json.Unmarshal(data, &score); err == nil {
		*q = ScoreQuality(score)
		return nil
	}
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return fmt.Errorf("quality must be a preset name, label or 0-100 score: %w", err)
	}
	*q = ParseQuality(label)
	return nil
}

type VideoCodec string

const (
	CodecH264 VideoCodec = "h264"
	CodecVP8  VideoCodec = "vp8"
)

func ParseVideoCodec(s string) (VideoCodec, error) {
	switch c := VideoCodec(strings.ToLower(strings.TrimSpace(s))); c {
	case CodecH264, CodecVP8:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unsupported codec %q", ErrInputValidation, s)
	}
}

type StreamConfig struct {
	ScreenIndex int        `json:"screen_index"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	Framerate   int        `json:"framerate"`
	Quality     Quality    `json:"quality"`
	Bitrate     *int       `json:"bitrate,omitempty"` // kbps
	Codec       VideoCodec `json:"codec"`
}

func (c StreamConfig) Validate() error {
	if c.ScreenIndex < 0 {
		return fmt.Errorf("%w: screen_index must be >= 0", ErrInputValidation)
	}
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("%w: width and height must be >= 0", ErrInputValidation)
	}
	if c.Framerate < 1 || c.Framerate > 120 {
		return fmt.Errorf("%w: framerate must be between 1 and 120", ErrInputValidation)
	}
	if c.Bitrate != nil && *c.Bitrate <= 0 {
		return fmt.Errorf("%w: bitrate must be > 0", ErrInputValidation)
	}
	if _, err := ParseVideoCodec(string(c.Codec)); err != nil {
		return err
	}
	return c.Quality.Validate()
}

// EstimateBitrateKbps derives a bitrate from resolution, framerate and the
// preset's bits-per-pixel factor.
func (c StreamConfig) EstimateBitrateKbps(preset QualityPreset) int {
	if c.Width == 0 || c.Height == 0 {
		return 0
	}
	bps := float64(c.Width*c.Height*c.Framerate) * bitsPerPixel[preset]
	return int(bps / 1000)
}

// EffectiveBitrateKbps returns the explicit bitrate when set. Otherwise the
// larger of the preset floor and the resolution estimate.
func (c StreamConfig) EffectiveBitrateKbps() int {
	return c.BitrateForPreset(c.Quality.Resolve())
}

// BitrateForPreset is EffectiveBitrateKbps with the preset overridden, used
// when adaptive quality moves away from the configured preset.
func (c StreamConfig) BitrateForPreset(preset QualityPreset) int {
	if c.Bitrate != nil {
		return *c.Bitrate
	}
	floor := preset.BitrateFloorKbps()
	if est := c.EstimateBitrateKbps(preset); est > floor {
		return est
	}
	return floor
}
