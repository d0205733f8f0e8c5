package domain

import (
	"encoding/json"
	"image"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDesktop = image.Rect(0, 0, 1920, 1080)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"a", true},
		{"Z", true},
		{" ", true},
		{"é", true},
		{"Enter", true},
		{"F12", true},
		{"ArrowLeft", true},
		{"", false},
		{"ab", false},
		{"enter", false},
		{"F13", false},
		{"\x01", false},
		{"\x7f", false},
		{"\xff", false},
	}

	for _, tt := range tests {
		err := KeyPress{Key: tt.key}.Validate(testDesktop)
		if tt.valid {
			assert.NoError(t, err, "key %q", tt.key)
		} else {
			assert.ErrorIs(t, err, ErrInputValidation, "key %q", tt.key)
		}
	}
}

func TestTextInput_Validate(t *testing.T) {
	assert.NoError(t, TextInput{Text: "héllo"}.Validate(testDesktop))
	assert.NoError(t, TextInput{Text: strings.Repeat("a", MaxTextInputBytes)}.Validate(testDesktop))

	for name, text := range map[string]string{
		"empty":        "",
		"too long":     strings.Repeat("a", MaxTextInputBytes+1),
		"invalid utf8": "ok\xffno",
	} {
		assert.ErrorIs(t, TextInput{Text: text}.Validate(testDesktop), ErrInputValidation, name)
	}
}

func TestPointerEvents_Validate(t *testing.T) {
	tests := []struct {
		name  string
		event InputEvent
		valid bool
	}{
		{"move inside", MouseMove{X: 1919, Y: 1079}, true},
		{"move on right edge", MouseMove{X: 1920, Y: 0}, false},
		{"move negative", MouseMove{X: -1, Y: 10}, false},
		{"click left", MouseClick{X: 10, Y: 10, Button: ButtonLeft}, true},
		{"double click middle", MouseDoubleClick{X: 10, Y: 10, Button: ButtonMiddle}, true},
		{"down right", MouseDown{X: 0, Y: 0, Button: ButtonRight}, true},
		{"up without button", MouseUp{X: 10, Y: 10}, false},
		{"click unknown button", MouseClick{X: 10, Y: 10, Button: "back"}, false},
		{"click outside", MouseClick{X: 5000, Y: 10, Button: ButtonLeft}, false},
		{"scroll", MouseScroll{DeltaY: -3}, true},
		{"scroll zero", MouseScroll{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate(testDesktop)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInputValidation)
			}
		})
	}
}

func TestDecodeInputEventJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		want InputEvent
	}{
		{"move", `{"type":"mouse_move","x":5,"y":6}`, MouseMove{X: 5, Y: 6}},
		{"click button any case", `{"type":"mouse_click","x":1,"y":2,"button":"RIGHT"}`, MouseClick{X: 1, Y: 2, Button: ButtonRight}},
		{"click keeps missing button", `{"type":"mouse_click","x":1,"y":2}`, MouseClick{X: 1, Y: 2}},
		{"scroll", `{"type":"mouse_scroll","delta_x":0,"delta_y":-2}`, MouseScroll{DeltaY: -2}},
		{"key", `{"type":"key_down","key":"Shift"}`, KeyDown{Key: "Shift"}},
		{"text", `{"type":"text","text":"hi"}`, TextInput{Text: "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInputEventJSON([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("missing button fails validation", func(t *testing.T) {
		got, err := DecodeInputEventJSON([]byte(`{"type":"mouse_down","x":1,"y":2}`))
		require.NoError(t, err)
		assert.ErrorIs(t, got.Validate(testDesktop), ErrInputValidation)
	})

	for _, body := range []string{`{"type":"mouse_teleport"}`, `{}`, `not json`} {
		_, err := DecodeInputEventJSON([]byte(body))
		assert.ErrorIs(t, err, ErrInputValidation, body)
	}
}

func TestEnvelopeOf_RoundTrip(t *testing.T) {
	events := []InputEvent{
		MouseMove{X: 1, Y: 2},
		MouseClick{X: 3, Y: 4, Button: ButtonLeft},
		MouseDoubleClick{X: 5, Y: 6, Button: ButtonRight},
		MouseDown{X: 7, Y: 8, Button: ButtonMiddle},
		MouseUp{X: 9, Y: 10, Button: ButtonLeft},
		MouseScroll{DeltaX: 1, DeltaY: -1},
		KeyDown{Key: "Control"},
		KeyUp{Key: "Control"},
		KeyPress{Key: "q"},
		TextInput{Text: "echo hi"},
	}

	for _, event := range events {
		t.Run(string(event.Kind()), func(t *testing.T) {
			env := EnvelopeOf(event)
			assert.Equal(t, event.Kind(), env.Type)

			data, err := json.Marshal(env)
			require.NoError(t, err)
			fromJSON, err := DecodeInputEventJSON(data)
			require.NoError(t, err)
			assert.Equal(t, event, fromJSON)

			frame, err := cbor.Marshal(env)
			require.NoError(t, err)
			fromCBOR, err := DecodeInputEventCBOR(frame)
			require.NoError(t, err)
			assert.Equal(t, event, fromCBOR)
		})
	}
}
