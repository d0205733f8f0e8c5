package utils

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// FormatDuration renders d compactly: 850ms, 12.50s, 4m10s, 3h05m.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := d / time.Minute
		seconds := (d % time.Minute) / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	hours := d / time.Hour
	minutes := (d % time.Hour) / time.Minute
	return fmt.Sprintf("%dh%02dm", hours, minutes)
}

// MaskSecret keeps the first visible characters of s and stars out the
// rest, so logs can tell keys apart without leaking them.
func MaskSecret(s string, visible int) string {
	if s == "" {
		return ""
	}
	if len(s) <= visible*2 {
		return strings.Repeat("*", len(s))
	}
	return s[:visible] + strings.Repeat("*", len(s)-visible)
}

// Truncate shortens s to at most maxLen bytes without splitting a rune and
// marks the cut with "...".
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
