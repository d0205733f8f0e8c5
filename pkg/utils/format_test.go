package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{850 * time.Millisecond, "850ms"},
		{12500 * time.Millisecond, "12.50s"},
		{4*time.Minute + 10*time.Second, "4m10s"},
		{3*time.Hour + 5*time.Minute + 59*time.Second, "3h05m"},
		{50 * time.Hour, "50h00m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("", 4))
	assert.Equal(t, "******", MaskSecret("abcdef", 4))
	assert.Equal(t, "dk_l*******", MaskSecret("dk_live_key", 4))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd...", Truncate("abcdefghij", 7))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	// never splits a multi-byte rune
	assert.Equal(t, "xx...", Truncate("xxéyyyy", 6))
}
