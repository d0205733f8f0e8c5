package webrtc

import (
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
)

// ntpEpochOffset is the number of seconds between 1900 and 1970.
const ntpEpochOffset = 2208988800

// processRTCP processes RTCP packets from the video sender until the
// connection closes.
func (t *PeerTransport) processRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			t.logger.Debugw("RTCP reader stopped", "error", err)
			return
		}
		t.processRTCPPackets(packets, time.Now())
	}
}

// processRTCPPackets folds receiver reports into the link feedback.
func (t *PeerTransport) processRTCPPackets(packets []rtcp.Packet, now time.Time) {
	var totalLoss float64
	var totalJitter uint32
	var totalRTT time.Duration
	reports, rttSamples := 0, 0

	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, report := range p.Reports {
				totalLoss += float64(report.FractionLost) / 256
				totalJitter += report.Jitter
				reports++
				if rtt, ok := roundTrip(report, now); ok {
					totalRTT += rtt
					rttSamples++
				}
			}

		case *rtcp.TransportLayerNack:
			t.logger.Debugw("Received NACK", "nacks", len(p.Nacks))

		case *rtcp.PictureLossIndication:
			t.pliCount.Add(1)
			t.logger.Debugw("Received PLI", "media_ssrc", p.MediaSSRC)
		}
	}

	if reports == 0 {
		return
	}

	t.feedbackMu.Lock()
	t.feedback.PacketLoss = totalLoss / float64(reports)
	// Jitter is in RTP timestamp units of the 90kHz video clock.
	t.feedback.Jitter = time.Duration(totalJitter/uint32(reports)) * time.Second / 90000
	if rttSamples > 0 {
		t.feedback.RoundTrip = totalRTT / time.Duration(rttSamples)
	}
	t.feedbackMu.Unlock()
}

// roundTrip derives RTT from the LSR and DLSR fields of a reception report.
func roundTrip(report rtcp.ReceptionReport, now time.Time) (time.Duration, bool) {
	if report.LastSenderReport == 0 {
		return 0, false
	}
	ticks := compactNTP(now) - report.LastSenderReport - report.Delay
	if int32(ticks) < 0 {
		return 0, false
	}
	return time.Duration(ticks) * time.Second / 65536, true
}

// compactNTP returns the middle 32 bits of the NTP timestamp for t.
func compactNTP(t time.Time) uint32 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / uint64(time.Second)
	return uint32(secs<<16) | uint32(frac>>16)
}
