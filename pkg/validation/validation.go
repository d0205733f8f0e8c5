package validation

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	// PeerIDRegex validates peer ID format
	PeerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

	// OperatorNameRegex validates operator display names used in tokens
	OperatorNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

	// HostnameRegex validates RFC 1123 host names
	HostnameRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
)

const (
	MinBitrateKbps = 100
	MaxBitrateKbps = 50000
)

// ValidatePeerID validates peer ID
func ValidatePeerID(peerID string) error {
	if peerID == "" {
		return fmt.Errorf("peer ID is required")
	}
	if len(peerID) > 128 {
		return fmt.Errorf("peer ID is too long (max 128 characters)")
	}
	if !PeerIDRegex.MatchString(peerID) {
		return fmt.Errorf("invalid peer ID format")
	}
	return nil
}

// ValidateOperatorName validates the name an operator requests a token for
func ValidateOperatorName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("operator name is required")
	}
	if len(name) < 3 {
		return fmt.Errorf("operator name must be at least 3 characters")
	}
	if len(name) > 50 {
		return fmt.Errorf("operator name is too long (max 50 characters)")
	}
	if !OperatorNameRegex.MatchString(name) {
		return fmt.Errorf("operator name contains invalid characters (only letters, numbers, _, -, . allowed)")
	}
	return nil
}

// ValidateHost accepts an IP literal or a host name
func ValidateHost(host string) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return fmt.Errorf("host is required")
	}
	if len(host) > 253 {
		return fmt.Errorf("host is too long (max 253 characters)")
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if !HostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid host %q", host)
	}
	return nil
}

// ValidatePort validates a TCP/UDP port; zero is rejected
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// ValidateICEServerURL validates a STUN or TURN URI (RFC 7064, RFC 7065)
func ValidateICEServerURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("ICE server URL is required")
	}
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return fmt.Errorf("invalid ICE server URL %q", raw)
	}
	switch scheme {
	case "stun", "stuns", "turn", "turns":
	default:
		return fmt.Errorf("invalid ICE server URL scheme %q (must be stun, stuns, turn, or turns)", scheme)
	}

	hostPort, _, _ := strings.Cut(rest, "?")
	if hostPort == "" {
		return fmt.Errorf("ICE server URL must have a host")
	}
	host := hostPort
	if h, p, err := net.SplitHostPort(hostPort); err == nil {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid ICE server port %q", p)
		}
		if err := ValidatePort(port); err != nil {
			return err
		}
		host = h
	}
	return ValidateHost(strings.Trim(host, "[]"))
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateBitrate validates bitrate value in kbps
func ValidateBitrate(bitrate int) error {
	if bitrate < MinBitrateKbps {
		return fmt.Errorf("bitrate must be at least %d kbps", MinBitrateKbps)
	}
	if bitrate > MaxBitrateKbps {
		return fmt.Errorf("bitrate is too high (max %d kbps)", MaxBitrateKbps)
	}
	return nil
}

// ValidateQuality accepts a preset name or a 0-100 score. Other labels are
// allowed by the session layer and fall back to the default preset, so this
// is only used where a strict value is wanted (configuration).
func ValidateQuality(quality string) error {
	switch strings.ToLower(strings.TrimSpace(quality)) {
	case "low", "medium", "high", "ultra", "extreme":
		return nil
	}
	score, err := strconv.Atoi(strings.TrimSpace(quality))
	if err != nil {
		return fmt.Errorf("invalid quality %q (must be Low, Medium, High, Ultra, Extreme, or a 0-100 score)", quality)
	}
	if score < 0 || score > 100 {
		return fmt.Errorf("quality score %d outside 0-100", score)
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
