package domain

import "time"

type StreamStats struct {
	FramesSent       uint64        `json:"frames_sent"`
	FramesReceived   uint64        `json:"frames_received"`
	BytesSent        uint64        `json:"bytes_sent"`
	BytesReceived    uint64        `json:"bytes_received"`
	FramesDropped    uint64        `json:"frames_dropped"`
	CurrentFPS       float64       `json:"current_fps"`
	CurrentBitrate   float64       `json:"current_bitrate_kbps"`
	AverageLatency   float64       `json:"average_latency_ms"`
	PacketLoss       float64       `json:"packet_loss"`
	EffectiveQuality QualityPreset `json:"effective_quality,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Merge folds a live reading into the cumulative snapshot. Counters never
// move backwards; instantaneous values are replaced.
func (s StreamStats) Merge(live StreamStats) StreamStats {
	merged := s
	merged.FramesSent = maxUint64(s.FramesSent, live.FramesSent)
	merged.FramesReceived = maxUint64(s.FramesReceived, live.FramesReceived)
	merged.BytesSent = maxUint64(s.BytesSent, live.BytesSent)
	merged.BytesReceived = maxUint64(s.BytesReceived, live.BytesReceived)
	merged.FramesDropped = maxUint64(s.FramesDropped, live.FramesDropped)
	merged.CurrentFPS = live.CurrentFPS
	merged.CurrentBitrate = live.CurrentBitrate
	merged.AverageLatency = live.AverageLatency
	merged.PacketLoss = live.PacketLoss
	if live.EffectiveQuality != "" {
		merged.EffectiveQuality = live.EffectiveQuality
	}
	merged.UpdatedAt = live.UpdatedAt
	return merged
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// LinkFeedback is what the receiver reports back over RTCP.
type LinkFeedback struct {
	PacketLoss     float64       // 0-1
	RoundTrip      time.Duration
	Jitter         time.Duration
	BytesReceived  uint64 // control channel
	FramesReceived uint64 // control channel messages
}
