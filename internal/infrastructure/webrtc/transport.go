package webrtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

const (
	controlChannelLabel = "control"
	h264FmtpLine        = "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"
)

// Config WebRTC transport configuration
type Config struct {
	PortRange struct {
		Min uint16
		Max uint16
	}
	// GatherTimeout bounds how long offer and answer generation waits for
	// ICE gathering so the returned SDP carries candidates. Zero returns
	// immediately and relies on trickle ICE.
	GatherTimeout time.Duration
}

type TransportFactory struct {
	config Config
	logger *zap.SugaredLogger
}

func NewTransportFactory(config Config, logger *zap.SugaredLogger) *TransportFactory {
	return &TransportFactory{config: config, logger: logger}
}

// PeerTransport is one pion peer connection carrying a send-only video
// track and the control data channel.
type PeerTransport struct {
	sessionID     domain.SessionID
	pc            *webrtc.PeerConnection
	track         *webrtc.TrackLocalStaticSample
	codec         domain.VideoCodec
	handlers      ports.TransportHandlers
	gatherTimeout time.Duration
	logger        *zap.SugaredLogger

	feedbackMu sync.Mutex
	feedback   domain.LinkFeedback

	controlFrames atomic.Uint64
	controlBytes  atomic.Uint64
	pliCount      atomic.Uint64
	closed        atomic.Bool
}

func (f *TransportFactory) NewTransport(ctx context.Context, opts ports.TransportOptions) (ports.PeerTransport, error) {
	return f.newTransport(opts)
}

func (f *TransportFactory) newTransport(opts ports.TransportOptions) (*PeerTransport, error) {
	mimeType, err := mimeTypeFor(opts.Codec)
	if err != nil {
		return nil, err
	}

	pc, err := f.createPeerConnection(opts.ICEServers)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	capability := webrtc.RTPCodecCapability{MimeType: mimeType, ClockRate: 90000}
	if opts.Codec == domain.CodecH264 {
		capability.SDPFmtpLine = h264FmtpLine
	}
	track, err := webrtc.NewTrackLocalStaticSample(capability, "video", "deskbridge-"+string(opts.SessionID))
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	transceiver, err := pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to add video track: %w", err)
	}

	t := &PeerTransport{
		sessionID:     opts.SessionID,
		pc:            pc,
		track:         track,
		codec:         opts.Codec,
		handlers:      opts.Handlers,
		gatherTimeout: f.config.GatherTimeout,
		logger:        f.logger.With("session_id", opts.SessionID),
	}

	pc.OnICECandidate(t.handleICECandidate)
	pc.OnConnectionStateChange(t.handleConnectionState)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != controlChannelLabel {
			t.logger.Debugw("Ignoring data channel", "label", dc.Label())
			return
		}
		t.attachControlChannel(dc)
	})

	dc, err := pc.CreateDataChannel(controlChannelLabel, nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create control channel: %w", err)
	}
	t.attachControlChannel(dc)

	go t.processRTCP(transceiver.Sender())

	return t, nil
}

// createPeerConnection creates a new WebRTC connection
func (f *TransportFactory) createPeerConnection(iceServers []domain.ICEServer) (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if f.config.PortRange.Min > 0 && f.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(f.config.PortRange.Min, f.config.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid udp port range: %w", err)
		}
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(settingEngine),
	)
	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   toICEServers(iceServers),
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	})
}

func (t *PeerTransport) CreateOffer(ctx context.Context) (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	return t.setLocal(ctx, offer)
}

// AcceptOffer applies the remote offer and answers it. The offer must
// negotiate the transport's video codec.
func (t *PeerTransport) AcceptOffer(ctx context.Context, offerSDP string) (string, error) {
	desc, err := parseSessionDescription(offerSDP)
	if err != nil {
		return "", err
	}
	if hasVideo(desc) && !offersCodec(desc, t.codec) {
		return "", fmt.Errorf("remote offer does not support %s video", t.codec)
	}

	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		return "", fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	return t.setLocal(ctx, answer)
}

func (t *PeerTransport) SetRemoteDescription(ctx context.Context, sdp string, sdpType domain.SDPType) error {
	pionType, err := pionSDPType(sdpType)
	if err != nil {
		return err
	}
	if pionType != webrtc.SDPTypeRollback {
		if _, err := parseSessionDescription(sdp); err != nil {
			return err
		}
	}
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: pionType, SDP: sdp}); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

func (t *PeerTransport) AddICECandidate(ctx context.Context, candidate domain.IceCandidate) error {
	err := t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	})
	if err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

func (t *PeerTransport) VideoSink() ports.VideoSink {
	return &trackSink{track: t.track, codec: t.codec}
}

// Feedback reports the latest receiver-side link view plus control channel
// counters.
func (t *PeerTransport) Feedback() domain.LinkFeedback {
	t.feedbackMu.Lock()
	fb := t.feedback
	t.feedbackMu.Unlock()
	fb.FramesReceived = t.controlFrames.Load()
	fb.BytesReceived = t.controlBytes.Load()
	return fb
}

func (t *PeerTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.pc.Close()
}

func (t *PeerTransport) setLocal(ctx context.Context, desc webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	if t.gatherTimeout > 0 {
		select {
		case <-gatherComplete:
		case <-time.After(t.gatherTimeout):
			t.logger.Debugw("ICE gathering incomplete, continuing with trickle", "timeout", t.gatherTimeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if local := t.pc.LocalDescription(); local != nil {
		return local.SDP, nil
	}
	return desc.SDP, nil
}

func (t *PeerTransport) handleICECandidate(c *webrtc.ICECandidate) {
	if c == nil || t.handlers.OnLocalCandidate == nil {
		return
	}
	init := c.ToJSON()
	t.handlers.OnLocalCandidate(domain.IceCandidate{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	})
}

func (t *PeerTransport) handleConnectionState(state webrtc.PeerConnectionState) {
	t.logger.Infow("Peer connection state changed", "connection_state", state.String())

	status, ok := sessionStatusFor(state)
	if !ok || t.handlers.OnStateChange == nil {
		return
	}
	t.handlers.OnStateChange(status)
}

func (t *PeerTransport) attachControlChannel(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		t.logger.Infow("Control channel open", "channel_id", dc.ID())
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.controlFrames.Add(1)
		t.controlBytes.Add(uint64(len(msg.Data)))
		if msg.IsString {
			t.logger.Debugw("Ignoring text control message", "bytes", len(msg.Data))
			return
		}
		if t.handlers.OnControlMessage != nil {
			t.handlers.OnControlMessage(msg.Data)
		}
	})
}

func sessionStatusFor(state webrtc.PeerConnectionState) (domain.SessionStatus, bool) {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return domain.StatusConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return domain.StatusConnected, true
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
		return domain.StatusDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return domain.StatusError, true
	default:
		return "", false
	}
}

func pionSDPType(t domain.SDPType) (webrtc.SDPType, error) {
	switch t {
	case domain.SDPTypeOffer:
		return webrtc.SDPTypeOffer, nil
	case domain.SDPTypeAnswer:
		return webrtc.SDPTypeAnswer, nil
	case domain.SDPTypePranswer:
		return webrtc.SDPTypePranswer, nil
	case domain.SDPTypeRollback:
		return webrtc.SDPTypeRollback, nil
	default:
		return 0, fmt.Errorf("unsupported sdp type %q", t)
	}
}

func mimeTypeFor(codec domain.VideoCodec) (string, error) {
	switch codec {
	case domain.CodecH264:
		return webrtc.MimeTypeH264, nil
	case domain.CodecVP8:
		return webrtc.MimeTypeVP8, nil
	default:
		return "", fmt.Errorf("unsupported video codec %q", codec)
	}
}

func toICEServers(servers []domain.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, server)
	}
	return out
}

type trackSink struct {
	track *webrtc.TrackLocalStaticSample
	codec domain.VideoCodec
}

func (s *trackSink) Codec() domain.VideoCodec {
	return s.codec
}

func (s *trackSink) WriteFrame(data []byte, duration time.Duration) error {
	return s.track.WriteSample(media.Sample{Data: data, Duration: duration})
}
