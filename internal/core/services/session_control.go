package services

import (
	"context"
	"fmt"

	"deskbridge/internal/core/domain"
	"deskbridge/pkg/tracing"
)

func (s *sessionService) GenerateKeypair(ctx context.Context, id domain.SessionID) ([]byte, error) {
	_, span := tracing.StartSpan(ctx, "session.generate_keypair")
	defer span.End()

	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	sess.channelMu.Lock()
	pub, err := sess.channel.GenerateKeypair()
	sess.channelMu.Unlock()
	if err != nil {
		return nil, wrapKind(domain.ErrCrypto, err)
	}
	return pub, nil
}

// ExchangeKeys completes key agreement. encryptionReady only ever moves
// from false to true.
func (s *sessionService) ExchangeKeys(ctx context.Context, id domain.SessionID, peerPublicKey []byte) error {
	_, span := tracing.StartSpan(ctx, "session.exchange_keys")
	defer span.End()

	sess, err := s.lookup(id)
	if err != nil {
		return err
	}

	sess.channelMu.Lock()
	err = sess.channel.Exchange(peerPublicKey)
	sess.channelMu.Unlock()
	s.deps.Metrics.KeyExchange(err)
	if err != nil {
		s.logger.Warnw("Key exchange failed", "session_id", id, "error", err)
		return wrapKind(domain.ErrCrypto, err)
	}

	sess.metaMu.Lock()
	sess.encryptionReady = true
	sess.metaMu.Unlock()

	s.logger.Infow("Control channel keys exchanged", "session_id", id)
	return nil
}

func (s *sessionService) KeyFingerprint(ctx context.Context, id domain.SessionID) (string, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return "", err
	}

	sess.channelMu.Lock()
	fp, err := sess.channel.Fingerprint()
	sess.channelMu.Unlock()
	if err != nil {
		return "", wrapKind(domain.ErrCrypto, err)
	}
	return fp, nil
}

func (s *sessionService) SetInputEnabled(ctx context.Context, id domain.SessionID, enabled bool) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	sess.input.SetEnabled(enabled)
	s.logger.Infow("Input permission changed", "session_id", id, "enabled", enabled)
	return nil
}

// ExecuteInput refuses before validation when input is disabled.
func (s *sessionService) ExecuteInput(ctx context.Context, id domain.SessionID, event domain.InputEvent) error {
	kind := undecodedInput
	if event != nil {
		kind = event.Kind()
	}
	_, err := s.executeInput(ctx, id, kind, func() (domain.InputEvent, error) {
		if event == nil {
			return nil, fmt.Errorf("%w: input event is required", domain.ErrInputValidation)
		}
		return event, nil
	})
	return err
}

// ExecuteInputJSON decodes raw only once the session exists and input is
// enabled, so a malformed event on a closed or disabled session reports the
// session state rather than the decode error.
func (s *sessionService) ExecuteInputJSON(ctx context.Context, id domain.SessionID, raw []byte) (domain.InputEvent, error) {
	return s.executeInput(ctx, id, undecodedInput, func() (domain.InputEvent, error) {
		return domain.DecodeInputEventJSON(raw)
	})
}

// undecodedInput labels refusals that happen before the event is decoded.
const undecodedInput domain.InputKind = "undecoded"

func (s *sessionService) executeInput(ctx context.Context, id domain.SessionID, kind domain.InputKind, decode func() (domain.InputEvent, error)) (domain.InputEvent, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if !sess.input.Enabled() {
		s.deps.Metrics.InputEvent(kind, domain.ErrInputDisabled)
		return nil, fmt.Errorf("%w: session %s", domain.ErrInputDisabled, id)
	}

	event, err := decode()
	if err != nil {
		s.deps.Metrics.InputEvent(kind, err)
		return nil, err
	}

	screens, err := s.deps.Capturer.Screens()
	if err != nil {
		return event, wrapKind(domain.ErrCapture, err)
	}

	err = sess.input.Execute(ctx, event, domain.DesktopBounds(screens))
	s.deps.Metrics.InputEvent(event.Kind(), err)
	return event, err
}

// onControlMessage handles a sealed frame from the control data channel.
// Frames are dropped until the key exchange has completed.
func (s *sessionService) onControlMessage(sess *remoteSession, frame []byte) {
	sess.metaMu.Lock()
	ready := sess.encryptionReady
	sess.metaMu.Unlock()
	if !ready {
		s.logger.Warnw("Dropped control frame before key exchange", "session_id", sess.id, "bytes", len(frame))
		return
	}

	sess.channelMu.Lock()
	plain, err := sess.channel.Open(frame)
	sess.channelMu.Unlock()
	if err != nil {
		s.logger.Warnw("Rejected control frame", "session_id", sess.id, "error", err)
		return
	}

	event, err := s.executeInput(context.Background(), sess.id, undecodedInput, func() (domain.InputEvent, error) {
		return domain.DecodeInputEventCBOR(plain)
	})
	if err != nil {
		kind := undecodedInput
		if event != nil {
			kind = event.Kind()
		}
		s.logger.Debugw("Control input not executed", "session_id", sess.id, "kind", kind, "error", err)
	}
}
