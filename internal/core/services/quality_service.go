package services

import (
	"time"

	"deskbridge/internal/core/domain"
)

// QualityThreshold is the worst link a preset tolerates.
type QualityThreshold struct {
	PacketLoss float64
	Latency    time.Duration
}

type QualityService struct {
	thresholds        map[domain.QualityPreset]QualityThreshold
	minSwitchInterval time.Duration
	hysteresisFactor  float64
}

func NewQualityService(minSwitchInterval time.Duration) *QualityService {
	return &QualityService{
		thresholds: map[domain.QualityPreset]QualityThreshold{
			domain.QualityExtreme: {PacketLoss: 0.005, Latency: 50 * time.Millisecond},
			domain.QualityUltra:   {PacketLoss: 0.01, Latency: 80 * time.Millisecond},
			domain.QualityHigh:    {PacketLoss: 0.02, Latency: 120 * time.Millisecond},
			domain.QualityMedium:  {PacketLoss: 0.05, Latency: 200 * time.Millisecond},
			domain.QualityLow:     {PacketLoss: 0.1, Latency: 300 * time.Millisecond},
		},
		minSwitchInterval: minSwitchInterval,
		hysteresisFactor:  0.2,
	}
}

// GetThresholds returns the per-preset link thresholds.
func (qs *QualityService) GetThresholds() map[domain.QualityPreset]QualityThreshold {
	return qs.thresholds
}

// DetermineOptimalQuality returns the highest preset whose thresholds the
// link meets.
func (qs *QualityService) DetermineOptimalQuality(fb domain.LinkFeedback) domain.QualityPreset {
	for i := len(domain.QualityPresets) - 1; i >= 0; i-- {
		preset := domain.QualityPresets[i]
		if qs.meetsQualityRequirements(fb, qs.thresholds[preset]) {
			return preset
		}
	}
	return domain.QualityLow
}

func (qs *QualityService) meetsQualityRequirements(fb domain.LinkFeedback, threshold QualityThreshold) bool {
	return fb.PacketLoss <= threshold.PacketLoss && fb.RoundTrip <= threshold.Latency
}

func (qs *QualityService) ShouldDowngrade(current domain.QualityPreset, fb domain.LinkFeedback) bool {
	if current == domain.QualityLow {
		return false
	}
	threshold := qs.thresholds[current]
	factor := 1 + qs.hysteresisFactor
	return fb.PacketLoss > threshold.PacketLoss*factor ||
		float64(fb.RoundTrip) > float64(threshold.Latency)*factor
}

func (qs *QualityService) ShouldUpgrade(current domain.QualityPreset, fb domain.LinkFeedback) bool {
	next := current.Higher()
	if next == current {
		return false
	}
	threshold := qs.thresholds[next]
	factor := 1 - qs.hysteresisFactor
	return fb.PacketLoss <= threshold.PacketLoss*factor &&
		float64(fb.RoundTrip) <= float64(threshold.Latency)*factor
}

// Next steps current one level towards what the link supports, never above
// ceiling and never sooner than the minimum switch interval.
func (qs *QualityService) Next(current, ceiling domain.QualityPreset, fb domain.LinkFeedback, sinceLastSwitch time.Duration) (domain.QualityPreset, bool) {
	if current.Rank() > ceiling.Rank() {
		return ceiling, true
	}
	if sinceLastSwitch < qs.minSwitchInterval {
		return current, false
	}
	if qs.ShouldDowngrade(current, fb) {
		return current.Lower(), true
	}
	if current.Rank() < ceiling.Rank() && qs.ShouldUpgrade(current, fb) {
		return current.Higher(), true
	}
	return current, false
}
