package webrtc

import (
	"fmt"
	"strconv"
	"strings"

	"deskbridge/internal/core/domain"

	"github.com/pion/sdp/v3"
)

func parseSessionDescription(raw string) (*sdp.SessionDescription, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty session description")
	}
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("malformed session description: %w", err)
	}
	return desc, nil
}

func hasVideo(desc *sdp.SessionDescription) bool {
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == "video" {
			return true
		}
	}
	return false
}

// offeredVideoCodecs lists the lower-cased codec names of every video
// payload type in desc.
func offeredVideoCodecs(desc *sdp.SessionDescription) []string {
	var names []string
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "video" {
			continue
		}
		for _, format := range md.MediaName.Formats {
			pt, err := strconv.Atoi(format)
			if err != nil {
				continue
			}
			codec, err := desc.GetCodecForPayloadType(uint8(pt))
			if err != nil {
				continue
			}
			names = append(names, strings.ToLower(codec.Name))
		}
	}
	return names
}

func offersCodec(desc *sdp.SessionDescription, codec domain.VideoCodec) bool {
	for _, name := range offeredVideoCodecs(desc) {
		if name == string(codec) {
			return true
		}
	}
	return false
}
