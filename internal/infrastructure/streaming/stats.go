package streaming

import (
	"sync"
	"time"
)

type liveStats struct {
	fps         float64
	bitrateKbps float64
	latencyMs   float64
}

// statsWindow turns the monotonic counters into per-interval rates.
type statsWindow struct {
	mu sync.Mutex

	startedAt  time.Time
	startFrame uint64
	startBytes uint64

	latencySum   time.Duration
	latencyCount int

	current liveStats
}

func (w *statsWindow) reset(now time.Time, frames, bytes uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.startedAt = now
	w.startFrame = frames
	w.startBytes = bytes
	w.latencySum = 0
	w.latencyCount = 0
	w.current = liveStats{}
}

func (w *statsWindow) observeLatency(d time.Duration) {
	w.mu.Lock()
	w.latencySum += d
	w.latencyCount++
	w.mu.Unlock()
}

// roll closes the current window and opens the next one at now.
func (w *statsWindow) roll(now time.Time, frames, bytes uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	elapsed := now.Sub(w.startedAt).Seconds()
	if elapsed <= 0 {
		return
	}

	w.current.fps = float64(frames-w.startFrame) / elapsed
	w.current.bitrateKbps = float64(bytes-w.startBytes) * 8 / 1000 / elapsed
	if w.latencyCount > 0 {
		w.current.latencyMs = float64(w.latencySum) / float64(w.latencyCount) / float64(time.Millisecond)
	}

	w.startedAt = now
	w.startFrame = frames
	w.startBytes = bytes
	w.latencySum = 0
	w.latencyCount = 0
}

func (w *statsWindow) snapshot() liveStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}
