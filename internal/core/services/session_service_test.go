package services

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testScreens = []domain.ScreenInfo{
	{ID: 0, Name: "Display 0", Width: 1920, Height: 1080, IsPrimary: true, ScaleFactor: 1},
	{ID: 1, Name: "Display 1", Width: 1280, Height: 1024, X: 1920, ScaleFactor: 1},
}

func testStreamConfig() domain.StreamConfig {
	return domain.StreamConfig{
		Width:     1920,
		Height:    1080,
		Framerate: 30,
		Quality:   domain.PresetQuality(domain.QualityHigh),
		Codec:     domain.CodecH264,
	}
}

type sessionFixture struct {
	svc        ports.SessionService
	transports *mockTransportFactory
	transport  *mockTransport
	streamers  *mockStreamerFactory
	capturer   *mockCapturer
	injector   *mockInjector
	channel    *mockChannel
}

func newSessionFixture(t *testing.T) *sessionFixture {
	f := &sessionFixture{
		transports: &mockTransportFactory{},
		transport:  &mockTransport{},
		streamers:  &mockStreamerFactory{},
		capturer:   &mockCapturer{},
		injector:   &mockInjector{},
		channel:    &mockChannel{},
	}
	f.transports.On("NewTransport", mock.Anything, mock.Anything, domain.CodecH264).Return(f.transport, nil).Maybe()
	f.transport.On("Close").Return(nil).Maybe()
	f.capturer.On("Screens").Return(testScreens, nil).Maybe()

	f.svc = NewSessionService(SessionDependencies{
		Transports: f.transports,
		Streamers:  f.streamers,
		Capturer:   f.capturer,
		Injector:   f.injector,
		Channels:   &mockChannelFactory{channel: f.channel},
	}, SessionServiceConfig{
		DefaultICEServers:   []domain.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		DefaultStreamConfig: testStreamConfig(),
	}, zaptest.NewLogger(t).Sugar())
	return f
}

func (f *sessionFixture) create(t *testing.T) *domain.SessionSnapshot {
	snap, err := f.svc.Create(context.Background(), "peer-1", nil, nil)
	require.NoError(t, err)
	return snap
}

func TestSessionService_Create(t *testing.T) {
	tests := []struct {
		name    string
		peerID  domain.PeerID
		cfg     *domain.StreamConfig
		wantErr error
	}{
		{name: "valid peer", peerID: "peer-1"},
		{name: "custom config", peerID: "peer-2", cfg: &domain.StreamConfig{Framerate: 15, Quality: domain.ScoreQuality(50), Codec: domain.CodecH264}},
		{name: "empty peer", peerID: "", wantErr: domain.ErrInputValidation},
		{name: "blank peer", peerID: "   ", wantErr: domain.ErrInputValidation},
		{name: "bad framerate", peerID: "peer-3", cfg: &domain.StreamConfig{Framerate: 0, Codec: domain.CodecH264}, wantErr: domain.ErrInputValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSessionFixture(t)
			snap, err := f.svc.Create(context.Background(), tt.peerID, nil, tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				list, _ := f.svc.List(context.Background())
				assert.Empty(t, list)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, snap.ID)
			assert.Equal(t, tt.peerID, snap.PeerID)
			assert.Equal(t, domain.StatusCreated, snap.Status)
			assert.False(t, snap.Streaming)
			assert.False(t, snap.InputEnabled)
			assert.False(t, snap.EncryptionReady)
			assert.Nil(t, snap.LocalSDP)
			assert.Nil(t, snap.RemoteSDP)
		})
	}
}

func TestSessionService_CreateTransportFailure(t *testing.T) {
	f := newSessionFixture(t)
	failing := &mockTransportFactory{}
	failing.On("NewTransport", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("no udp ports"))

	svc := NewSessionService(SessionDependencies{
		Transports: failing,
		Streamers:  f.streamers,
		Capturer:   f.capturer,
		Injector:   f.injector,
		Channels:   &mockChannelFactory{channel: f.channel},
	}, SessionServiceConfig{DefaultStreamConfig: testStreamConfig()}, zaptest.NewLogger(t).Sugar())

	_, err := svc.Create(context.Background(), "peer-1", nil, nil)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Contains(t, err.Error(), "no udp ports")

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSessionService_CloseThenOperationsFail(t *testing.T) {
	f := newSessionFixture(t)
	snap := f.create(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Close(ctx, snap.ID))
	f.transport.AssertCalled(t, "Close")

	_, err := f.svc.Get(ctx, snap.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	err = f.svc.ExecuteInput(ctx, snap.ID, domain.MouseMove{X: 1, Y: 1})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	err = f.svc.Close(ctx, snap.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionService_CloseStopsStreamerAndIgnoresTeardownErrors(t *testing.T) {
	f := newSessionFixture(t)
	transport := &mockTransport{}
	transport.On("Close").Return(errors.New("already closed"))
	f.transports.ExpectedCalls = nil
	f.transports.On("NewTransport", mock.Anything, mock.Anything, mock.Anything).Return(transport, nil)

	streamer := &mockStreamer{}
	streamer.On("SelectScreen", 0).Return()
	streamer.On("Start").Return(nil)
	streamer.On("Stop").Return()
	f.streamers.On("NewStreamer", mock.Anything, mock.Anything).Return(streamer, nil)

	snap := f.create(t)
	ctx := context.Background()
	require.NoError(t, f.svc.StartStreaming(ctx, snap.ID, nil, nil))

	require.NoError(t, f.svc.Close(ctx, snap.ID))
	streamer.AssertCalled(t, "Stop")
	transport.AssertCalled(t, "Close")

	_, err := f.svc.Get(ctx, snap.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionService_ListIsOrderedAndIsolated(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	first := f.create(t)
	second, err := f.svc.Create(ctx, "peer-2", nil, nil)
	require.NoError(t, err)

	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	list[0].IceCandidates = append(list[0].IceCandidates, domain.IceCandidate{Candidate: "mutated"})
	again, err := f.svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Empty(t, again.IceCandidates)
}

func TestSessionService_UnknownSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	id := domain.SessionID("missing")
	sdp := "v=0"

	checks := map[string]func() error{
		"get":         func() error { _, err := f.svc.Get(ctx, id); return err },
		"offer":       func() error { _, err := f.svc.CreateOffer(ctx, id); return err },
		"answer":      func() error { _, err := f.svc.CreateAnswer(ctx, id, &sdp, nil); return err },
		"remote_desc": func() error { return f.svc.SetRemoteDescription(ctx, id, sdp, domain.SDPTypeOffer) },
		"candidate":   func() error { return f.svc.AddIceCandidate(ctx, id, domain.IceCandidate{Candidate: "c"}) },
		"start":       func() error { return f.svc.StartStreaming(ctx, id, nil, nil) },
		"stop":        func() error { return f.svc.StopStreaming(ctx, id) },
		"stats":       func() error { _, err := f.svc.GetStats(ctx, id); return err },
		"keypair":     func() error { _, err := f.svc.GenerateKeypair(ctx, id); return err },
		"exchange":    func() error { return f.svc.ExchangeKeys(ctx, id, make([]byte, 32)) },
		"input":       func() error { return f.svc.ExecuteInput(ctx, id, domain.MouseMove{}) },
		"enable":      func() error { return f.svc.SetInputEnabled(ctx, id, true) },
	}
	for name, check := range checks {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, check(), domain.ErrSessionNotFound)
		})
	}
}

func TestSessionService_CreateOffer(t *testing.T) {
	f := newSessionFixture(t)
	snap := f.create(t)
	ctx := context.Background()

	f.transport.On("CreateOffer", mock.Anything).Return("offer-1", nil).Once()
	f.transport.On("CreateOffer", mock.Anything).Return("offer-2", nil).Once()

	offer, err := f.svc.CreateOffer(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "offer-1", offer)

	got, err := f.svc.Get(ctx, snap.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LocalSDP)
	assert.Equal(t, "offer-1", *got.LocalSDP)
	assert.Equal(t, domain.StatusConnecting, got.Status)

	_, err = f.svc.CreateOffer(ctx, snap.ID)
	require.NoError(t, err)
	got, err = f.svc.Get(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "offer-2", *got.LocalSDP)
}

func TestSessionService_CreateOfferTransportError(t *testing.T) {
	f := newSessionFixture(t)
	snap := f.create(t)

	f.transport.On("CreateOffer", mock.Anything).Return("", errors.New("signaling state closed"))
	_, err := f.svc.CreateOffer(context.Background(), snap.ID)
	assert.ErrorIs(t, err, domain.ErrTransport)

	got, _ := f.svc.Get(context.Background(), snap.ID)
	assert.Nil(t, got.LocalSDP)
	assert.Equal(t, domain.StatusCreated, got.Status)
}

func TestSessionService_CreateAnswer(t *testing.T) {
	remote := "remote-offer"
	answer := "remote-answer"

	t.Run("neither supplied", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		_, err := f.svc.CreateAnswer(context.Background(), snap.ID, nil, nil)
		assert.ErrorIs(t, err, domain.ErrInputValidation)
	})

	t.Run("both supplied", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		_, err := f.svc.CreateAnswer(context.Background(), snap.ID, &remote, &answer)
		assert.ErrorIs(t, err, domain.ErrInputValidation)
		f.transport.AssertNotCalled(t, "AcceptOffer", mock.Anything, mock.Anything)
	})

	t.Run("answerer role", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		f.transport.On("AcceptOffer", mock.Anything, remote).Return("local-answer", nil)

		got, err := f.svc.CreateAnswer(context.Background(), snap.ID, &remote, nil)
		require.NoError(t, err)
		assert.Equal(t, "local-answer", got)

		after, _ := f.svc.Get(context.Background(), snap.ID)
		assert.Equal(t, remote, *after.RemoteSDP)
		assert.Equal(t, "local-answer", *after.LocalSDP)
		assert.Equal(t, domain.StatusConnected, after.Status)
	})

	t.Run("offerer finalizing", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		f.transport.On("CreateOffer", mock.Anything).Return("local-offer", nil)
		f.transport.On("SetRemoteDescription", mock.Anything, answer, domain.SDPTypeAnswer).Return(nil)

		_, err := f.svc.CreateOffer(context.Background(), snap.ID)
		require.NoError(t, err)
		got, err := f.svc.CreateAnswer(context.Background(), snap.ID, nil, &answer)
		require.NoError(t, err)
		assert.Equal(t, answer, got)

		after, _ := f.svc.Get(context.Background(), snap.ID)
		assert.Equal(t, answer, *after.RemoteSDP)
		assert.Equal(t, "local-offer", *after.LocalSDP)
		assert.Equal(t, domain.StatusConnected, after.Status)
	})

	t.Run("transport rejects offer", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		f.transport.On("AcceptOffer", mock.Anything, remote).Return("", errors.New("malformed sdp"))

		_, err := f.svc.CreateAnswer(context.Background(), snap.ID, &remote, nil)
		assert.ErrorIs(t, err, domain.ErrTransport)
		assert.Contains(t, err.Error(), "malformed sdp")
	})
}

func TestSessionService_SetRemoteDescription(t *testing.T) {
	f := newSessionFixture(t)
	snap := f.create(t)
	ctx := context.Background()

	f.transport.On("SetRemoteDescription", mock.Anything, "sdp-a", domain.SDPTypeOffer).Return(nil)
	require.NoError(t, f.svc.SetRemoteDescription(ctx, snap.ID, "sdp-a", domain.SDPTypeOffer))

	got, _ := f.svc.Get(ctx, snap.ID)
	assert.Equal(t, "sdp-a", *got.RemoteSDP)

	err := f.svc.SetRemoteDescription(ctx, snap.ID, "", domain.SDPTypeOffer)
	assert.ErrorIs(t, err, domain.ErrInputValidation)
}

func TestSessionService_AddIceCandidateKeepsDuplicates(t *testing.T) {
	f := newSessionFixture(t)
	snap := f.create(t)
	ctx := context.Background()

	mid := "0"
	idx := uint16(0)
	candidate := domain.IceCandidate{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 50000 typ host", SDPMid: &mid, SDPMLineIndex: &idx}
	f.transport.On("AddICECandidate", mock.Anything, candidate).Return(nil)

	require.NoError(t, f.svc.AddIceCandidate(ctx, snap.ID, candidate))
	require.NoError(t, f.svc.AddIceCandidate(ctx, snap.ID, candidate))

	got, _ := f.svc.Get(ctx, snap.ID)
	assert.Len(t, got.IceCandidates, 2)
	f.transport.AssertNumberOfCalls(t, "AddICECandidate", 2)
}

func TestSessionService_AddIceCandidateRejected(t *testing.T) {
	f := newSessionFixture(t)
	snap := f.create(t)
	candidate := domain.IceCandidate{Candidate: "garbage"}
	f.transport.On("AddICECandidate", mock.Anything, candidate).Return(errors.New("no remote description"))

	err := f.svc.AddIceCandidate(context.Background(), snap.ID, candidate)
	assert.ErrorIs(t, err, domain.ErrTransport)

	got, _ := f.svc.Get(context.Background(), snap.ID)
	assert.Empty(t, got.IceCandidates)
}

func TestSessionService_TransportStateDrivesStatus(t *testing.T) {
	f := newSessionFixture(t)
	snap := f.create(t)

	f.transports.handlers.OnStateChange(domain.StatusConnected)
	got, _ := f.svc.Get(context.Background(), snap.ID)
	assert.Equal(t, domain.StatusConnected, got.Status)

	f.transports.handlers.OnStateChange(domain.StatusError)
	got, _ = f.svc.Get(context.Background(), snap.ID)
	assert.Equal(t, domain.StatusError, got.Status)

	f.transports.handlers.OnStateChange(domain.StatusCreated)
	got, _ = f.svc.Get(context.Background(), snap.ID)
	assert.Equal(t, domain.StatusError, got.Status)
}

func TestSessionService_StartStreamingReusesStreamer(t *testing.T) {
	f := newSessionFixture(t)
	snap := f.create(t)
	ctx := context.Background()

	streamer := &mockStreamer{}
	streamer.On("SelectScreen", mock.Anything).Return()
	streamer.On("Start").Return(nil)
	streamer.On("Stop").Return()
	streamer.On("ApplyConfig", mock.Anything).Return(nil)
	streamer.On("Stats").Return(domain.StreamStats{FramesSent: 120, BytesSent: 64000, CurrentFPS: 30}).Once()
	streamer.On("Stats").Return(domain.StreamStats{FramesSent: 120, BytesSent: 64000}).Once()
	streamer.On("Stats").Return(domain.StreamStats{FramesSent: 180, BytesSent: 96000, CurrentFPS: 29}).Once()
	f.streamers.On("NewStreamer", snap.ID, mock.Anything).Return(streamer, nil).Once()

	require.NoError(t, f.svc.StartStreaming(ctx, snap.ID, nil, nil))
	stats, err := f.svc.GetStats(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), stats.FramesSent)

	require.NoError(t, f.svc.StopStreaming(ctx, snap.ID))
	got, _ := f.svc.Get(ctx, snap.ID)
	assert.False(t, got.Streaming)

	cfg := testStreamConfig()
	cfg.Framerate = 15
	screen := 1
	require.NoError(t, f.svc.StartStreaming(ctx, snap.ID, &screen, &cfg))
	f.streamers.AssertNumberOfCalls(t, "NewStreamer", 1)
	streamer.AssertCalled(t, "ApplyConfig", mock.MatchedBy(func(c domain.StreamConfig) bool {
		return c.Framerate == 15 && c.ScreenIndex == 1
	}))
	streamer.AssertCalled(t, "SelectScreen", 1)

	stats, err = f.svc.GetStats(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(180), stats.FramesSent)
	assert.Equal(t, uint64(96000), stats.BytesSent)
	assert.Equal(t, 29.0, stats.CurrentFPS)

	got, _ = f.svc.Get(ctx, snap.ID)
	assert.True(t, got.Streaming)
	assert.Equal(t, 1, got.ScreenIndex)
	assert.Equal(t, 15, got.StreamConfig.Framerate)
}

func TestSessionService_StartStreamingErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("screen out of range", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		screen := 5
		err := f.svc.StartStreaming(ctx, snap.ID, &screen, nil)
		assert.ErrorIs(t, err, domain.ErrCapture)
		f.streamers.AssertNotCalled(t, "NewStreamer", mock.Anything, mock.Anything)
	})

	t.Run("codec change", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		cfg := testStreamConfig()
		cfg.Codec = domain.CodecVP8
		err := f.svc.StartStreaming(ctx, snap.ID, nil, &cfg)
		assert.ErrorIs(t, err, domain.ErrCapture)
	})

	t.Run("encoder init failure", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		f.streamers.On("NewStreamer", snap.ID, mock.Anything).Return(nil, errors.New("no encoder registered for h264"))
		err := f.svc.StartStreaming(ctx, snap.ID, nil, nil)
		assert.ErrorIs(t, err, domain.ErrCapture)
		assert.Contains(t, err.Error(), "no encoder registered for h264")

		got, _ := f.svc.Get(ctx, snap.ID)
		assert.False(t, got.Streaming)
	})

	t.Run("invalid config", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		cfg := testStreamConfig()
		cfg.Framerate = 500
		err := f.svc.StartStreaming(ctx, snap.ID, nil, &cfg)
		assert.ErrorIs(t, err, domain.ErrInputValidation)
	})
}

func TestSessionService_ParallelStartStreaming(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	a := f.create(t)
	b, err := f.svc.Create(ctx, "peer-2", nil, nil)
	require.NoError(t, err)

	const startDelay = 200 * time.Millisecond
	newSlowStreamer := func() *mockStreamer {
		s := &mockStreamer{}
		s.On("SelectScreen", mock.Anything).Return()
		s.On("Start").After(startDelay).Return(nil)
		return s
	}
	f.streamers.On("NewStreamer", a.ID, mock.Anything).Return(newSlowStreamer(), nil)
	f.streamers.On("NewStreamer", b.ID, mock.Anything).Return(newSlowStreamer(), nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	started := time.Now()
	for i, id := range []domain.SessionID{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id domain.SessionID) {
			defer wg.Done()
			errs[i] = f.svc.StartStreaming(ctx, id, nil, nil)
		}(i, id)
	}
	wg.Wait()
	elapsed := time.Since(started)

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Less(t, elapsed, 2*startDelay-50*time.Millisecond)
}

// gatedCapturer blocks the first Screens call until release is closed.
type gatedCapturer struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedCapturer() *gatedCapturer {
	return &gatedCapturer{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedCapturer) Screens() ([]domain.ScreenInfo, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return testScreens, nil
}

func (g *gatedCapturer) Capture(int) (*image.RGBA, error) {
	return nil, errors.New("capture not available")
}

func TestSessionService_CloseDuringStartStreaming(t *testing.T) {
	f := newSessionFixture(t)
	capturer := newGatedCapturer()
	svc := NewSessionService(SessionDependencies{
		Transports: f.transports,
		Streamers:  f.streamers,
		Capturer:   capturer,
		Injector:   f.injector,
		Channels:   &mockChannelFactory{channel: f.channel},
	}, SessionServiceConfig{DefaultStreamConfig: testStreamConfig()}, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	snap, err := svc.Create(ctx, "peer-1", nil, nil)
	require.NoError(t, err)

	streamer := &mockStreamer{}
	streamer.On("SelectScreen", mock.Anything).Return().Maybe()
	streamer.On("Start").Return(nil).Maybe()
	f.streamers.On("NewStreamer", snap.ID, mock.Anything).Return(streamer, nil).Maybe()

	done := make(chan error, 1)
	go func() { done <- svc.StartStreaming(ctx, snap.ID, nil, nil) }()

	select {
	case <-capturer.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("StartStreaming never reached the screen check")
	}
	require.NoError(t, svc.Close(ctx, snap.ID))
	close(capturer.release)

	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StartStreaming did not return")
	}
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	f.streamers.AssertNotCalled(t, "NewStreamer", mock.Anything, mock.Anything)
	streamer.AssertNotCalled(t, "Start")

	_, err = svc.Get(ctx, snap.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionService_ListScreens(t *testing.T) {
	f := newSessionFixture(t)
	screens, err := f.svc.ListScreens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testScreens, screens)
}

func TestSessionService_KeyExchange(t *testing.T) {
	ctx := context.Background()

	t.Run("exchange without keypair", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		f.channel.On("Exchange", mock.Anything).Return(errors.New("no local keypair"))

		err := f.svc.ExchangeKeys(ctx, snap.ID, make([]byte, 32))
		assert.ErrorIs(t, err, domain.ErrCrypto)

		got, _ := f.svc.Get(ctx, snap.ID)
		assert.False(t, got.EncryptionReady)
	})

	t.Run("generate then exchange", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		pub := make([]byte, 32)
		pub[0] = 9
		f.channel.On("GenerateKeypair").Return(pub, nil)
		f.channel.On("Exchange", mock.Anything).Return(nil)
		f.channel.On("Fingerprint").Return("abcd", nil)

		got, err := f.svc.GenerateKeypair(ctx, snap.ID)
		require.NoError(t, err)
		assert.Equal(t, pub, got)

		require.NoError(t, f.svc.ExchangeKeys(ctx, snap.ID, make([]byte, 32)))
		after, _ := f.svc.Get(ctx, snap.ID)
		assert.True(t, after.EncryptionReady)

		fp, err := f.svc.KeyFingerprint(ctx, snap.ID)
		require.NoError(t, err)
		assert.Equal(t, "abcd", fp)
	})

	t.Run("failed retry keeps ready", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		f.channel.On("Exchange", mock.Anything).Return(nil).Once()
		f.channel.On("Exchange", mock.Anything).Return(errors.New("invalid public key length (expected 32 bytes)")).Once()

		require.NoError(t, f.svc.ExchangeKeys(ctx, snap.ID, make([]byte, 32)))
		err := f.svc.ExchangeKeys(ctx, snap.ID, []byte{1, 2})
		assert.ErrorIs(t, err, domain.ErrCrypto)

		after, _ := f.svc.Get(ctx, snap.ID)
		assert.True(t, after.EncryptionReady)
	})
}

func TestSessionService_ExecuteInput(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled never reaches injector", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)

		for _, event := range []domain.InputEvent{
			domain.MouseMove{X: 10, Y: 10},
			domain.MouseMove{X: -10, Y: 99999},
			domain.TextInput{Text: ""},
		} {
			err := f.svc.ExecuteInput(ctx, snap.ID, event)
			assert.ErrorIs(t, err, domain.ErrInputDisabled)
		}
		f.injector.AssertNotCalled(t, "Inject", mock.Anything, mock.Anything)
		f.capturer.AssertNotCalled(t, "Screens")
	})

	t.Run("enabled dispatches valid events", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		event := domain.MouseClick{X: 2000, Y: 500, Button: domain.ButtonRight}
		f.injector.On("Inject", mock.Anything, event).Return(nil)

		require.NoError(t, f.svc.SetInputEnabled(ctx, snap.ID, true))
		got, _ := f.svc.Get(ctx, snap.ID)
		assert.True(t, got.InputEnabled)

		require.NoError(t, f.svc.ExecuteInput(ctx, snap.ID, event))
		f.injector.AssertExpectations(t)
	})

	t.Run("validation failure is distinct", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		require.NoError(t, f.svc.SetInputEnabled(ctx, snap.ID, true))

		err := f.svc.ExecuteInput(ctx, snap.ID, domain.MouseMove{X: 5000, Y: 10})
		assert.ErrorIs(t, err, domain.ErrInputValidation)
		assert.NotErrorIs(t, err, domain.ErrInputExecution)
		f.injector.AssertNotCalled(t, "Inject", mock.Anything, mock.Anything)
	})

	t.Run("execution failure", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		require.NoError(t, f.svc.SetInputEnabled(ctx, snap.ID, true))
		f.injector.On("Inject", mock.Anything, mock.Anything).Return(errors.New("xdotool: exit status 1"))

		err := f.svc.ExecuteInput(ctx, snap.ID, domain.KeyPress{Key: "Enter"})
		assert.ErrorIs(t, err, domain.ErrInputExecution)
		assert.NotErrorIs(t, err, domain.ErrInputValidation)
	})

	t.Run("disable again", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		require.NoError(t, f.svc.SetInputEnabled(ctx, snap.ID, true))
		require.NoError(t, f.svc.SetInputEnabled(ctx, snap.ID, false))

		err := f.svc.ExecuteInput(ctx, snap.ID, domain.KeyPress{Key: "a"})
		assert.ErrorIs(t, err, domain.ErrInputDisabled)
	})
}

func TestSessionService_ExecuteInputJSON(t *testing.T) {
	ctx := context.Background()

	t.Run("closed session wins over a malformed body", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		require.NoError(t, f.svc.Close(ctx, snap.ID))

		_, err := f.svc.ExecuteInputJSON(ctx, snap.ID, []byte("not json"))
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("disabled wins over an unknown type", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)

		event, err := f.svc.ExecuteInputJSON(ctx, snap.ID, []byte(`{"type":"mouse_teleport"}`))
		assert.ErrorIs(t, err, domain.ErrInputDisabled)
		assert.NotErrorIs(t, err, domain.ErrInputValidation)
		assert.Nil(t, event)
		f.capturer.AssertNotCalled(t, "Screens")
	})

	t.Run("enabled rejects an unknown type", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		require.NoError(t, f.svc.SetInputEnabled(ctx, snap.ID, true))

		_, err := f.svc.ExecuteInputJSON(ctx, snap.ID, []byte(`{"type":"mouse_teleport"}`))
		assert.ErrorIs(t, err, domain.ErrInputValidation)
		f.injector.AssertNotCalled(t, "Inject", mock.Anything, mock.Anything)
	})

	t.Run("enabled executes a decoded event", func(t *testing.T) {
		f := newSessionFixture(t)
		snap := f.create(t)
		require.NoError(t, f.svc.SetInputEnabled(ctx, snap.ID, true))
		f.injector.On("Inject", mock.Anything, domain.KeyPress{Key: "Enter"}).Return(nil).Once()

		event, err := f.svc.ExecuteInputJSON(ctx, snap.ID, []byte(`{"type":"key_press","key":"Enter"}`))
		require.NoError(t, err)
		assert.Equal(t, domain.KeyPress{Key: "Enter"}, event)
		f.injector.AssertExpectations(t)
	})
}

func TestSessionService_ControlFrames(t *testing.T) {
	f := newSessionFixture(t)
	snap := f.create(t)
	ctx := context.Background()

	frame := []byte("sealed")
	plain := []byte{0xa3, 0x64, 't', 'y', 'p', 'e', 0x6a, 'm', 'o', 'u', 's', 'e', '_', 'm', 'o', 'v', 'e', 0x61, 'x', 0x05, 0x61, 'y', 0x06}

	// Dropped before the exchange completes.
	f.transports.handlers.OnControlMessage(frame)
	f.channel.AssertNotCalled(t, "Open", mock.Anything)

	f.channel.On("Exchange", mock.Anything).Return(nil)
	f.channel.On("Open", frame).Return(plain, nil)
	f.injector.On("Inject", mock.Anything, domain.MouseMove{X: 5, Y: 6}).Return(nil)
	require.NoError(t, f.svc.ExchangeKeys(ctx, snap.ID, make([]byte, 32)))

	// Still gated by the input flag.
	f.transports.handlers.OnControlMessage(frame)
	f.injector.AssertNotCalled(t, "Inject", mock.Anything, mock.Anything)

	require.NoError(t, f.svc.SetInputEnabled(ctx, snap.ID, true))
	f.transports.handlers.OnControlMessage(frame)
	f.injector.AssertCalled(t, "Inject", mock.Anything, domain.MouseMove{X: 5, Y: 6})
}

type recordedInput struct {
	kind domain.InputKind
	err  error
}

// inputMetrics records InputEvent calls and ignores everything else.
type inputMetrics struct {
	noopMetrics
	mu     sync.Mutex
	events []recordedInput
}

func (m *inputMetrics) InputEvent(kind domain.InputKind, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, recordedInput{kind: kind, err: err})
}

func TestSessionService_ControlFrameCheckedBeforeDecode(t *testing.T) {
	f := newSessionFixture(t)
	metrics := &inputMetrics{}
	svc := NewSessionService(SessionDependencies{
		Transports: f.transports,
		Streamers:  f.streamers,
		Capturer:   f.capturer,
		Injector:   f.injector,
		Channels:   &mockChannelFactory{channel: f.channel},
		Metrics:    metrics,
	}, SessionServiceConfig{DefaultStreamConfig: testStreamConfig()}, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	snap, err := svc.Create(ctx, "peer-1", nil, nil)
	require.NoError(t, err)

	frame := []byte("sealed")
	f.channel.On("Exchange", mock.Anything).Return(nil)
	f.channel.On("Open", frame).Return([]byte{0xff, 0x00}, nil)
	require.NoError(t, svc.ExchangeKeys(ctx, snap.ID, make([]byte, 32)))

	f.transports.handlers.OnControlMessage(frame)
	require.NoError(t, svc.SetInputEnabled(ctx, snap.ID, true))
	f.transports.handlers.OnControlMessage(frame)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	require.Len(t, metrics.events, 2)
	assert.ErrorIs(t, metrics.events[0].err, domain.ErrInputDisabled)
	assert.ErrorIs(t, metrics.events[1].err, domain.ErrInputValidation)
	f.injector.AssertNotCalled(t, "Inject", mock.Anything, mock.Anything)
}
