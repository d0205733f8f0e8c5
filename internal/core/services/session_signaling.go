package services

import (
	"context"
	"fmt"

	"deskbridge/internal/core/domain"
	"deskbridge/pkg/tracing"
)

func (s *sessionService) CreateOffer(ctx context.Context, id domain.SessionID) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "session.create_offer")
	defer span.End()

	sess, err := s.lookup(id)
	if err != nil {
		return "", err
	}

	sess.connMu.Lock()
	offer, err := sess.conn.CreateOffer(ctx)
	sess.connMu.Unlock()
	s.deps.Metrics.SignalingOperation("create_offer", err)
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", wrapKind(domain.ErrTransport, err)
	}

	sess.metaMu.Lock()
	sess.localSDP = &offer
	sess.metaMu.Unlock()
	s.setStatus(sess, domain.StatusConnecting)

	s.logger.Debugw("Offer created", "session_id", id, "sdp_bytes", len(offer))
	return offer, nil
}

// CreateAnswer plays the answerer role when remoteSDP is given and finalizes
// the offerer role when answerSDP is given. Exactly one must be supplied.
func (s *sessionService) CreateAnswer(ctx context.Context, id domain.SessionID, remoteSDP, answerSDP *string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "session.create_answer")
	defer span.End()

	sess, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	if (remoteSDP == nil) == (answerSDP == nil) {
		return "", fmt.Errorf("%w: exactly one of remote_sdp or answer_sdp must be supplied", domain.ErrInputValidation)
	}

	if remoteSDP != nil {
		offer := *remoteSDP
		sess.connMu.Lock()
		answer, err := sess.conn.AcceptOffer(ctx, offer)
		sess.connMu.Unlock()
		s.deps.Metrics.SignalingOperation("accept_offer", err)
		if err != nil {
			tracing.RecordError(ctx, err)
			return "", wrapKind(domain.ErrTransport, err)
		}

		sess.metaMu.Lock()
		sess.remoteSDP = &offer
		sess.localSDP = &answer
		sess.metaMu.Unlock()
		s.setStatus(sess, domain.StatusConnected)
		return answer, nil
	}

	answer := *answerSDP
	sess.connMu.Lock()
	err = sess.conn.SetRemoteDescription(ctx, answer, domain.SDPTypeAnswer)
	sess.connMu.Unlock()
	s.deps.Metrics.SignalingOperation("apply_answer", err)
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", wrapKind(domain.ErrTransport, err)
	}

	sess.metaMu.Lock()
	sess.remoteSDP = &answer
	sess.metaMu.Unlock()
	s.setStatus(sess, domain.StatusConnected)
	return answer, nil
}

func (s *sessionService) SetRemoteDescription(ctx context.Context, id domain.SessionID, sdp string, sdpType domain.SDPType) error {
	ctx, span := tracing.StartSpan(ctx, "session.set_remote_description")
	defer span.End()

	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	if sdpType != domain.SDPTypeRollback && sdp == "" {
		return fmt.Errorf("%w: sdp is required", domain.ErrInputValidation)
	}

	sess.connMu.Lock()
	err = sess.conn.SetRemoteDescription(ctx, sdp, sdpType)
	sess.connMu.Unlock()
	s.deps.Metrics.SignalingOperation("set_remote_description", err)
	if err != nil {
		tracing.RecordError(ctx, err)
		return wrapKind(domain.ErrTransport, err)
	}

	sess.metaMu.Lock()
	if sdpType == domain.SDPTypeRollback {
		sess.remoteSDP = nil
	} else {
		sess.remoteSDP = &sdp
	}
	sess.metaMu.Unlock()
	return nil
}

// AddIceCandidate never deduplicates; trickle ICE may resend a candidate.
func (s *sessionService) AddIceCandidate(ctx context.Context, id domain.SessionID, candidate domain.IceCandidate) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}

	sess.connMu.Lock()
	err = sess.conn.AddICECandidate(ctx, candidate)
	sess.connMu.Unlock()
	s.deps.Metrics.SignalingOperation("add_ice_candidate", err)
	if err != nil {
		return wrapKind(domain.ErrTransport, err)
	}

	sess.metaMu.Lock()
	sess.iceCandidates = append(sess.iceCandidates, candidate)
	sess.metaMu.Unlock()
	return nil
}
