// Package script runs user Lua hooks that rewrite data crossing the serial
// bridge.
//
// A script may define two global functions:
//
//	function serial_to_tty(line) return line .. "\n" end -- line read from the peer, terminator stripped
//	function tty_to_serial(data) return data end         -- raw bytes typed into the PTY
//
// Returning nil drops the data. Missing hooks pass data through unchanged.
// print() output is captured and exposed through Output.
package script

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
)

const (
	HookSerialToTTY = "serial_to_tty"
	HookTTYToSerial = "tty_to_serial"

	outputCapacity = 256
)

// OutputRecord is one captured line of script output
type OutputRecord struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "stdout" or "stderr"
}

// Error describes a failed load or hook call
type Error struct {
	Kind    string // "syntax", "runtime", "api"
	Source  string
	Line    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var where []string
	if e.Source != "" {
		where = append(where, e.Source)
	}
	if e.Line > 0 {
		where = append(where, fmt.Sprintf("line %d", e.Line))
	}
	if len(where) == 0 {
		return fmt.Sprintf("lua %s error: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("lua %s error (%s): %s", e.Kind, strings.Join(where, ", "), e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same Kind
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

var (
	ErrSyntax  = &Error{Kind: "syntax"}
	ErrRuntime = &Error{Kind: "runtime"}
)

// Engine owns one Lua state. All calls are serialized.
type Engine struct {
	mu     sync.Mutex
	state  *lua.State
	logger *logrus.Logger
	output *RingChannel[OutputRecord]
	hooks  map[string]bool
}

// NewEngine creates an engine with the standard libraries and print capture.
func NewEngine(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Engine{
		logger: logger,
		output: NewRingChannel[OutputRecord](outputCapacity),
		hooks:  map[string]bool{},
	}
	e.state = lua.NewState()
	e.state.OpenLibs()
	e.registerOutput("print", "stdout")
	e.registerOutput("eprint", "stderr")
	return e
}

func (e *Engine) registerOutput(name, source string) {
	e.state.PushGoFunction(func(L *lua.State) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, luaToString(L, i))
		}
		e.output.Send(OutputRecord{
			Content:   strings.Join(parts, "\t") + "\n",
			Timestamp: time.Now(),
			Source:    source,
		})
		return 0
	})
	e.state.SetGlobal(name)
}

func luaToString(L *lua.State, i int) string {
	switch {
	case L.IsNil(i):
		return "nil"
	case L.IsBoolean(i):
		if L.ToBoolean(i) {
			return "true"
		}
		return "false"
	case L.IsString(i) || L.IsNumber(i):
		return L.ToString(i)
	default:
		L.GetGlobal("tostring")
		L.PushValue(i)
		L.Call(1, 1)
		s := L.ToString(-1)
		L.Pop(1)
		return s
	}
}

// Output returns captured print/eprint output.
func (e *Engine) Output() <-chan OutputRecord {
	return e.output.C()
}

// OutputChannel exposes the ring itself, e.g. for drop counters.
func (e *Engine) OutputChannel() *RingChannel[OutputRecord] {
	return e.output
}

// LoadFile runs a script file.
func (e *Engine) LoadFile(path string) error {
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return e.Load(string(code), path)
}

// Load runs a script chunk, typically defining the hook functions.
func (e *Engine) Load(code, name string) error {
	if strings.TrimSpace(code) == "" {
		return &Error{Kind: "api", Source: name, Message: "empty script"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return &Error{Kind: "api", Source: name, Message: "engine closed"}
	}

	if status := e.state.LoadString(code); status != 0 {
		return e.popError("syntax", name, nil)
	}
	if err := e.state.Call(0, 0); err != nil {
		return e.callError("runtime", name, err)
	}

	for _, hook := range []string{HookSerialToTTY, HookTTYToSerial} {
		e.state.GetGlobal(hook)
		e.hooks[hook] = e.state.IsFunction(-1)
		e.state.Pop(1)
	}
	e.logger.WithFields(logrus.Fields{
		"script":        name,
		HookSerialToTTY: e.hooks[HookSerialToTTY],
		HookTTYToSerial: e.hooks[HookTTYToSerial],
	}).Debug("Lua script loaded")
	return nil
}

// HasHook reports whether the loaded script defines hook.
func (e *Engine) HasHook(hook string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hooks[hook]
}

// Call invokes hook with data. keep is false when the hook returned nil.
// Without such a hook data is returned unchanged.
func (e *Engine) Call(hook, data string) (out string, keep bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return "", false, &Error{Kind: "api", Source: hook, Message: "engine closed"}
	}
	if !e.hooks[hook] {
		return data, true, nil
	}

	L := e.state
	L.GetGlobal(hook)
	L.PushString(data)
	if err := L.Call(1, 1); err != nil {
		return "", false, e.callError("runtime", hook, err)
	}
	defer L.Pop(1)

	switch {
	case L.IsNil(-1):
		return "", false, nil
	case L.IsString(-1) || L.IsNumber(-1):
		return L.ToString(-1), true, nil
	default:
		return "", false, &Error{Kind: "runtime", Source: hook, Message: "hook must return a string or nil, got " + L.Typename(int(L.Type(-1)))}
	}
}

// SetGlobal exposes a Go value to scripts.
func (e *Engine) SetGlobal(name string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return &Error{Kind: "api", Message: "engine closed"}
	}

	switch v := value.(type) {
	case string:
		e.state.PushString(v)
	case int:
		e.state.PushInteger(int64(v))
	case int64:
		e.state.PushInteger(v)
	case float64:
		e.state.PushNumber(v)
	case bool:
		e.state.PushBoolean(v)
	default:
		return fmt.Errorf("unsupported type %T for global %s", value, name)
	}
	e.state.SetGlobal(name)
	return nil
}

// Close releases the Lua state and closes the output channel.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return
	}
	e.state.Close()
	e.state = nil
	e.output.Close()
}

// popError converts the error message on top of the stack.
func (e *Engine) popError(kind, source string, cause error) *Error {
	msg := "unknown error"
	if e.state.GetTop() > 0 {
		if e.state.IsString(-1) {
			msg = e.state.ToString(-1)
		}
		e.state.Pop(1)
	}
	return newError(kind, source, msg, cause)
}

func (e *Engine) callError(kind, source string, err error) *Error {
	var lerr *lua.LuaError
	if errors.As(err, &lerr) {
		return newError(kind, source, lerr.Error(), err)
	}
	return newError(kind, source, err.Error(), err)
}

var luaPosition = regexp.MustCompile(`(?s)\]:(\d+):\s*(.*)$`)

// newError splits `[string "..."]:12: message` into line and message.
func newError(kind, source, msg string, cause error) *Error {
	e := &Error{Kind: kind, Source: source, Message: msg, Err: cause}
	if m := luaPosition.FindStringSubmatch(msg); m != nil {
		e.Line, _ = strconv.Atoi(m[1])
		e.Message = m[2]
	}
	return e
}
