package monitoring

import (
	"sync"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ ports.SessionMetrics = (*PrometheusCollector)(nil)

// PrometheusCollector implements ports.SessionMetrics. Cumulative session
// stats are turned into counter increments by remembering the last value
// seen per session.
type PrometheusCollector struct {
	sessionsActive  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsClosed  prometheus.Counter
	sessionLifetime prometheus.Histogram

	signalingOps *prometheus.CounterVec
	inputEvents  *prometheus.CounterVec
	keyExchanges *prometheus.CounterVec

	framesSent    prometheus.Counter
	bytesSent     prometheus.Counter
	framesDropped prometheus.Counter

	streamBitrate    *prometheus.GaugeVec
	streamFPS        *prometheus.GaugeVec
	streamPacketLoss *prometheus.GaugeVec
	streamLatency    *prometheus.GaugeVec

	mu       sync.Mutex
	lastSeen map[domain.SessionID]domain.StreamStats
}

// NewPrometheusCollector registers the collector's metrics with reg. A nil
// reg uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "deskbridge_sessions_active",
			Help: "Number of sessions currently registered",
		}),

		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "deskbridge_sessions_created_total",
			Help: "Total number of sessions created",
		}),

		sessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "deskbridge_sessions_closed_total",
			Help: "Total number of sessions closed",
		}),

		sessionLifetime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "deskbridge_session_duration_seconds",
			Help:    "Lifetime of closed sessions",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),

		signalingOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deskbridge_signaling_operations_total",
			Help: "Signaling operations by operation and result",
		}, []string{"operation", "result"}),

		inputEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deskbridge_input_events_total",
			Help: "Remote input events by kind and result",
		}, []string{"kind", "result"}),

		keyExchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deskbridge_key_exchanges_total",
			Help: "Secure channel key exchanges by result",
		}, []string{"result"}),

		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "deskbridge_frames_sent_total",
			Help: "Total number of encoded frames written to peers",
		}),

		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "deskbridge_bytes_sent_total",
			Help: "Total number of encoded video bytes written to peers",
		}),

		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "deskbridge_frames_dropped_total",
			Help: "Total number of frames that failed capture or encoding",
		}),

		streamBitrate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deskbridge_stream_bitrate_kbps",
			Help: "Current video bitrate per session in kilobits per second",
		}, []string{"session_id", "quality"}),

		streamFPS: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deskbridge_stream_fps",
			Help: "Current frames per second per session",
		}, []string{"session_id"}),

		streamPacketLoss: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deskbridge_stream_packet_loss_ratio",
			Help: "Packet loss reported by the remote peer (0-1)",
		}, []string{"session_id"}),

		streamLatency: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deskbridge_stream_latency_ms",
			Help: "Estimated glass-to-glass latency per session",
		}, []string{"session_id"}),

		lastSeen: make(map[domain.SessionID]domain.StreamStats),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (p *PrometheusCollector) SessionCreated() {
	p.sessionsCreated.Inc()
	p.sessionsActive.Inc()
}

func (p *PrometheusCollector) SessionClosed(lifetime time.Duration) {
	p.sessionsClosed.Inc()
	p.sessionsActive.Dec()
	p.sessionLifetime.Observe(lifetime.Seconds())
}

func (p *PrometheusCollector) SignalingOperation(operation string, err error) {
	p.signalingOps.WithLabelValues(operation, result(err)).Inc()
}

func (p *PrometheusCollector) InputEvent(kind domain.InputKind, err error) {
	p.inputEvents.WithLabelValues(string(kind), result(err)).Inc()
}

func (p *PrometheusCollector) KeyExchange(err error) {
	p.keyExchanges.WithLabelValues(result(err)).Inc()
}

func (p *PrometheusCollector) StreamStats(id domain.SessionID, stats domain.StreamStats) {
	p.mu.Lock()
	prev := p.lastSeen[id]
	p.lastSeen[id] = stats
	p.mu.Unlock()

	if stats.FramesSent > prev.FramesSent {
		p.framesSent.Add(float64(stats.FramesSent - prev.FramesSent))
	}
	if stats.BytesSent > prev.BytesSent {
		p.bytesSent.Add(float64(stats.BytesSent - prev.BytesSent))
	}
	if stats.FramesDropped > prev.FramesDropped {
		p.framesDropped.Add(float64(stats.FramesDropped - prev.FramesDropped))
	}

	sid := string(id)
	if prev.EffectiveQuality != stats.EffectiveQuality {
		p.streamBitrate.DeleteLabelValues(sid, string(prev.EffectiveQuality))
	}
	p.streamBitrate.WithLabelValues(sid, string(stats.EffectiveQuality)).Set(stats.CurrentBitrate)
	p.streamFPS.WithLabelValues(sid).Set(stats.CurrentFPS)
	p.streamPacketLoss.WithLabelValues(sid).Set(stats.PacketLoss)
	p.streamLatency.WithLabelValues(sid).Set(stats.AverageLatency)
}

func (p *PrometheusCollector) ForgetSession(id domain.SessionID) {
	p.mu.Lock()
	prev, ok := p.lastSeen[id]
	delete(p.lastSeen, id)
	p.mu.Unlock()

	sid := string(id)
	if ok {
		p.streamBitrate.DeleteLabelValues(sid, string(prev.EffectiveQuality))
	}
	p.streamFPS.DeleteLabelValues(sid)
	p.streamPacketLoss.DeleteLabelValues(sid)
	p.streamLatency.DeleteLabelValues(sid)
}

// RegisterSocketGauge exposes the number of open signaling sockets, read
// from count at scrape time.
func RegisterSocketGauge(reg prometheus.Registerer, count func() int) prometheus.GaugeFunc {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "deskbridge_signaling_sockets_open",
		Help: "Number of open signaling websockets",
	}, func() float64 { return float64(count()) })
}
