package domain

import (
	"encoding/json"
	"fmt"
	"image"
	"strings"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
)

type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

func (b MouseButton) Valid() bool {
	switch b {
	case ButtonLeft, ButtonRight, ButtonMiddle:
		return true
	}
	return false
}

type InputKind string

const (
	KindMouseMove        InputKind = "mouse_move"
	KindMouseClick       InputKind = "mouse_click"
	KindMouseDoubleClick InputKind = "mouse_double_click"
	KindMouseDown        InputKind = "mouse_down"
	KindMouseUp          InputKind = "mouse_up"
	KindMouseScroll      InputKind = "mouse_scroll"
	KindKeyDown          InputKind = "key_down"
	KindKeyUp            InputKind = "key_up"
	KindKeyPress         InputKind = "key_press"
	KindText             InputKind = "text"
)

const MaxTextInputBytes = 4096

// NamedKeys are the non-printable key identifiers accepted by key events.
var NamedKeys = map[string]bool{
	"Enter": true, "Tab": true, "Escape": true, "Backspace": true, "Delete": true,
	"Insert": true, "Home": true, "End": true, "PageUp": true, "PageDown": true,
	"ArrowUp": true, "ArrowDown": true, "ArrowLeft": true, "ArrowRight": true,
	"Space": true, "Shift": true, "Control": true, "Alt": true, "Meta": true,
	"CapsLock": true,
	"F1": true, "F2": true, "F3": true, "F4": true, "F5": true, "F6": true,
	"F7": true, "F8": true, "F9": true, "F10": true, "F11": true, "F12": true,
}

// InputEvent is one synthetic host input action. The set of implementations
// is closed to this package.
type InputEvent interface {
	Kind() InputKind
	// Validate checks the event against the desktop bounds.
	Validate(desktop image.Rectangle) error
	isInputEvent()
}

type MouseMove struct {
	X, Y int
}

type MouseClick struct {
	X, Y   int
	Button MouseButton
}

type MouseDoubleClick struct {
	X, Y   int
	Button MouseButton
}

type MouseDown struct {
	X, Y   int
	Button MouseButton
}

type MouseUp struct {
	X, Y   int
	Button MouseButton
}

type MouseScroll struct {
	DeltaX, DeltaY int
}

type KeyDown struct{ Key string }
type KeyUp struct{ Key string }
type KeyPress struct{ Key string }

type TextInput struct{ Text string }

func (MouseMove) Kind() InputKind        { return KindMouseMove }
func (MouseClick) Kind() InputKind       { return KindMouseClick }
func (MouseDoubleClick) Kind() InputKind { return KindMouseDoubleClick }
func (MouseDown) Kind() InputKind        { return KindMouseDown }
func (MouseUp) Kind() InputKind          { return KindMouseUp }
func (MouseScroll) Kind() InputKind      { return KindMouseScroll }
func (KeyDown) Kind() InputKind          { return KindKeyDown }
func (KeyUp) Kind() InputKind            { return KindKeyUp }
func (KeyPress) Kind() InputKind         { return KindKeyPress }
func (TextInput) Kind() InputKind        { return KindText }

func (MouseMove) isInputEvent()        {}
func (MouseClick) isInputEvent()       {}
func (MouseDoubleClick) isInputEvent() {}
func (MouseDown) isInputEvent()        {}
func (MouseUp) isInputEvent()          {}
func (MouseScroll) isInputEvent()      {}
func (KeyDown) isInputEvent()          {}
func (KeyUp) isInputEvent()            {}
func (KeyPress) isInputEvent()         {}
func (TextInput) isInputEvent()        {}

func (e MouseMove) Validate(desktop image.Rectangle) error {
	return validatePoint(e.X, e.Y, desktop)
}

func (e MouseClick) Validate(desktop image.Rectangle) error {
	return validatePointer(e.X, e.Y, e.Button, desktop)
}

func (e MouseDoubleClick) Validate(desktop image.Rectangle) error {
	return validatePointer(e.X, e.Y, e.Button, desktop)
}

func (e MouseDown) Validate(desktop image.Rectangle) error {
	return validatePointer(e.X, e.Y, e.Button, desktop)
}

func (e MouseUp) Validate(desktop image.Rectangle) error {
	return validatePointer(e.X, e.Y, e.Button, desktop)
}

func (e MouseScroll) Validate(image.Rectangle) error {
	if e.DeltaX == 0 && e.DeltaY == 0 {
		return fmt.Errorf("%w: scroll delta must not be zero", ErrInputValidation)
	}
	return nil
}

func (e KeyDown) Validate(image.Rectangle) error  { return validateKey(e.Key) }
func (e KeyUp) Validate(image.Rectangle) error    { return validateKey(e.Key) }
func (e KeyPress) Validate(image.Rectangle) error { return validateKey(e.Key) }

func (e TextInput) Validate(image.Rectangle) error {
	if e.Text == "" {
		return fmt.Errorf("%w: text must not be empty", ErrInputValidation)
	}
	if len(e.Text) > MaxTextInputBytes {
		return fmt.Errorf("%w: text exceeds %d bytes", ErrInputValidation, MaxTextInputBytes)
	}
	if !utf8.ValidString(e.Text) {
		return fmt.Errorf("%w: text is not valid UTF-8", ErrInputValidation)
	}
	return nil
}

func validatePoint(x, y int, desktop image.Rectangle) error {
	if !image.Pt(x, y).In(desktop) {
		return fmt.Errorf("%w: point (%d,%d) outside desktop %v", ErrInputValidation, x, y, desktop)
	}
	return nil
}

func validatePointer(x, y int, button MouseButton, desktop image.Rectangle) error {
	if !button.Valid() {
		return fmt.Errorf("%w: unknown mouse button %q", ErrInputValidation, button)
	}
	return validatePoint(x, y, desktop)
}

func validateKey(key string) error {
	if NamedKeys[key] {
		return nil
	}
	if utf8.RuneCountInString(key) == 1 {
		r, _ := utf8.DecodeRuneInString(key)
		if r != utf8.RuneError && r >= 0x20 && r != 0x7f {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown key %q", ErrInputValidation, key)
}

// InputEnvelope is the flat wire form of an InputEvent, shared by the JSON
// API and the CBOR control channel.
type InputEnvelope struct {
	Type   InputKind   `json:"type" cbor:"type"`
	X      int         `json:"x,omitempty" cbor:"x,omitempty"`
	Y      int         `json:"y,omitempty" cbor:"y,omitempty"`
	Button MouseButton `json:"button,omitempty" cbor:"button,omitempty"`
	DeltaX int         `json:"delta_x,omitempty" cbor:"delta_x,omitempty"`
	DeltaY int         `json:"delta_y,omitempty" cbor:"delta_y,omitempty"`
	Key    string      `json:"key,omitempty" cbor:"key,omitempty"`
	Text   string      `json:"text,omitempty" cbor:"text,omitempty"`
}

// Event converts the envelope into its variant. Button names are matched
// case-insensitively; a pointer event without one fails validation.
func (e InputEnvelope) Event() (InputEvent, error) {
	button := MouseButton(strings.ToLower(string(e.Button)))
	switch e.Type {
	case KindMouseMove:
		return MouseMove{X: e.X, Y: e.Y}, nil
	case KindMouseClick:
		return MouseClick{X: e.X, Y: e.Y, Button: button}, nil
	case KindMouseDoubleClick:
		return MouseDoubleClick{X: e.X, Y: e.Y, Button: button}, nil
	case KindMouseDown:
		return MouseDown{X: e.X, Y: e.Y, Button: button}, nil
	case KindMouseUp:
		return MouseUp{X: e.X, Y: e.Y, Button: button}, nil
	case KindMouseScroll:
		return MouseScroll{DeltaX: e.DeltaX, DeltaY: e.DeltaY}, nil
	case KindKeyDown:
		return KeyDown{Key: e.Key}, nil
	case KindKeyUp:
		return KeyUp{Key: e.Key}, nil
	case KindKeyPress:
		return KeyPress{Key: e.Key}, nil
	case KindText:
		return TextInput{Text: e.Text}, nil
	default:
		return nil, fmt.Errorf("%w: unknown input event type %q", ErrInputValidation, e.Type)
	}
}

func EnvelopeOf(event InputEvent) InputEnvelope {
	env := InputEnvelope{Type: event.Kind()}
	switch e := event.(type) {
	case MouseMove:
		env.X, env.Y = e.X, e.Y
	case MouseClick:
		env.X, env.Y, env.Button = e.X, e.Y, e.Button
	case MouseDoubleClick:
		env.X, env.Y, env.Button = e.X, e.Y, e.Button
	case MouseDown:
		env.X, env.Y, env.Button = e.X, e.Y, e.Button
	case MouseUp:
		env.X, env.Y, env.Button = e.X, e.Y, e.Button
	case MouseScroll:
		env.DeltaX, env.DeltaY = e.DeltaX, e.DeltaY
	case KeyDown:
		env.Key = e.Key
	case KeyUp:
		env.Key = e.Key
	case KeyPress:
		env.Key = e.Key
	case TextInput:
		env.Text = e.Text
	}
	return env
}

func DecodeInputEventJSON(data []byte) (InputEvent, error) {
	var env InputEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed input event: %v", ErrInputValidation, err)
	}
	return env.Event()
}

// DecodeInputEventCBOR decodes an event arriving on the control data channel.
func DecodeInputEventCBOR(data []byte) (InputEvent, error) {
	var env InputEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed input frame: %v", ErrInputValidation, err)
	}
	return env.Event()
}
