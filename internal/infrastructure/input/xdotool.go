package input

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"deskbridge/internal/core/domain"

	"go.uber.org/zap"
)

// maxScrollSteps bounds the wheel clicks sent for a single scroll event.
const maxScrollSteps = 50

// Runner executes one command. It exists so tests can capture the argv.
type Runner func(ctx context.Context, env []string, name string, args ...string) error

func execRunner(ctx context.Context, env []string, name string, args ...string) error {
	var stderr bytes.Buffer
	command := exec.CommandContext(ctx, name, args...)
	command.Env = env
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return fmt.Errorf("%s %s: %w (stderr: %s)",
			name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// XdotoolInjector drives an X11 display through the xdotool CLI.
type XdotoolInjector struct {
	binary  string
	display string
	timeout time.Duration
	run     Runner
	logger  *zap.SugaredLogger
}

func NewXdotoolInjector(binary, display string, timeout time.Duration, logger *zap.SugaredLogger) *XdotoolInjector {
	return newXdotoolInjector(binary, display, timeout, execRunner, logger)
}

func newXdotoolInjector(binary, display string, timeout time.Duration, run Runner, logger *zap.SugaredLogger) *XdotoolInjector {
	if binary == "" {
		binary = "xdotool"
	}
	return &XdotoolInjector{
		binary:  binary,
		display: display,
		timeout: timeout,
		run:     run,
		logger:  logger,
	}
}

// Inject maps the event onto a single xdotool invocation.
func (x *XdotoolInjector) Inject(ctx context.Context, event domain.InputEvent) error {
	args, err := xdotoolArgs(event)
	if err != nil {
		return err
	}

	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	env := os.Environ()
	if x.display != "" {
		env = append(env, "DISPLAY="+x.display)
	}

	if err := x.run(ctx, env, x.binary, args...); err != nil {
		return err
	}
	x.logger.Debugw("Input injected", "kind", event.Kind())
	return nil
}

func xdotoolArgs(event domain.InputEvent) ([]string, error) {
	switch e := event.(type) {
	case domain.MouseMove:
		return moveTo(e.X, e.Y), nil
	case domain.MouseClick:
		return append(moveTo(e.X, e.Y), "click", buttonNumber(e.Button)), nil
	case domain.MouseDoubleClick:
		return append(moveTo(e.X, e.Y), "click", "--repeat", "2", buttonNumber(e.Button)), nil
	case domain.MouseDown:
		return append(moveTo(e.X, e.Y), "mousedown", buttonNumber(e.Button)), nil
	case domain.MouseUp:
		return append(moveTo(e.X, e.Y), "mouseup", buttonNumber(e.Button)), nil
	case domain.MouseScroll:
		return scrollArgs(e), nil
	case domain.KeyDown:
		return []string{"keydown", keysym(e.Key)}, nil
	case domain.KeyUp:
		return []string{"keyup", keysym(e.Key)}, nil
	case domain.KeyPress:
		return []string{"key", keysym(e.Key)}, nil
	case domain.TextInput:
		return []string{"type", "--delay", "0", "--", e.Text}, nil
	default:
		return nil, fmt.Errorf("unsupported input event %T", event)
	}
}

func moveTo(x, y int) []string {
	return []string{"mousemove", "--", strconv.Itoa(x), strconv.Itoa(y)}
}

func buttonNumber(b domain.MouseButton) string {
	switch b {
	case domain.ButtonMiddle:
		return "2"
	case domain.ButtonRight:
		return "3"
	default:
		return "1"
	}
}

// scrollArgs uses wheel buttons 4/5 for vertical and 6/7 for horizontal
// movement. Positive deltas scroll down and right.
func scrollArgs(e domain.MouseScroll) []string {
	var args []string
	add := func(delta int, negative, positive string) {
		if delta == 0 {
			return
		}
		button := positive
		if delta < 0 {
			button = negative
			delta = -delta
		}
		if delta > maxScrollSteps {
			delta = maxScrollSteps
		}
		args = append(args, "click", "--repeat", strconv.Itoa(delta), button)
	}
	add(e.DeltaY, "4", "5")
	add(e.DeltaX, "6", "7")
	return args
}

var namedKeysyms = map[string]string{
	"Enter":      "Return",
	"Tab":        "Tab",
	"Escape":     "Escape",
	"Backspace":  "BackSpace",
	"Delete":     "Delete",
	"Insert":     "Insert",
	"Home":       "Home",
	"End":        "End",
	"PageUp":     "Page_Up",
	"PageDown":   "Page_Down",
	"ArrowUp":    "Up",
	"ArrowDown":  "Down",
	"ArrowLeft":  "Left",
	"ArrowRight": "Right",
	"Space":      "space",
	"Shift":      "Shift_L",
	"Control":    "Control_L",
	"Alt":        "Alt_L",
	"Meta":       "Super_L",
	"CapsLock":   "Caps_Lock",
}

// keysym translates a validated key identifier to an X keysym name.
// Letters and digits are their own keysym; other characters use the
// Unicode keysym form.
func keysym(key string) string {
	if sym, ok := namedKeysyms[key]; ok {
		return sym
	}
	if strings.HasPrefix(key, "F") && len(key) > 1 {
		if _, err := strconv.Atoi(key[1:]); err == nil {
			return key
		}
	}
	r, _ := utf8.DecodeRuneInString(key)
	if r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
		return key
	}
	return fmt.Sprintf("U%04X", r)
}
