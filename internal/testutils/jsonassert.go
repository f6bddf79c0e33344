package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// AnyValue in expected JSON matches whatever the actual document holds.
const AnyValue = "<<ANY>>"

// JSONAssertOptions control the comparison.
type JSONAssertOptions struct {
	IgnoreExtraKeys bool     `default:"true"` // keys only present in actual are ignored
	NilAsEmpty      bool     `default:"true"` // null and [] compare equal
	IgnoredFields   []string // removed from both documents at any depth
}

// JSONOption configures a JSONAsserter
type JSONOption func(*JSONAssertOptions)

func WithStrictKeys() JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = false }
}

func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = append(o.IgnoredFields, fields...) }
}

// JSONAsserter compares JSON documents structurally.
type JSONAsserter struct {
	t    TestingT
	opts JSONAssertOptions
}

func NewJSONAsserter(t TestingT, opts ...JSONOption) *JSONAsserter {
	ja := &JSONAsserter{t: t}
	defaults.SetDefaults(&ja.opts)
	for _, opt := range opts {
		opt(&ja.opts)
	}
	return ja
}

// MustJSON marshals v or panics.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// Assert fails the test when actual does not match expected.
func (ja *JSONAsserter) Assert(actual, expected string) bool {
	ja.t.Helper()
	if d := ja.Diff(actual, expected); d != "" {
		ja.t.Errorf("JSON mismatch:\n%s", d)
		return false
	}
	return true
}

// Diff returns "" on a match, otherwise a readable diff or parse error.
func (ja *JSONAsserter) Diff(actual, expected string) string {
	var exp, act any
	if err := json.Unmarshal([]byte(expected), &exp); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actual), &act); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only
	exp = map[string]any{"root": exp}
	act = map[string]any{"root": act}

	for _, f := range ja.opts.IgnoredFields {
		dropField(exp, f)
		dropField(act, f)
	}
	act = ja.align(exp, act)

	expBytes, _ := json.Marshal(exp)
	actBytes, _ := json.Marshal(act)
	diff, err := gojsondiff.New().Compare(expBytes, actBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	out, err := formatter.NewAsciiFormatter(exp, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(diff)
	if err != nil {
		return fmt.Sprintf("JSON differs (format failed: %v)", err)
	}
	return out
}

// align returns act reshaped toward exp: AnyValue placeholders take the
// actual value, extra keys are pruned and nil arrays become empty, as the
// options allow.
func (ja *JSONAsserter) align(exp, act any) any {
	if s, ok := exp.(string); ok && s == AnyValue {
		return exp
	}

	switch e := exp.(type) {
	case map[string]any:
		a, ok := act.(map[string]any)
		if !ok {
			return act
		}
		out := make(map[string]any, len(a))
		for k, v := range a {
			ev, inExp := e[k]
			if !inExp {
				if !ja.opts.IgnoreExtraKeys {
					out[k] = v
				}
				continue
			}
			out[k] = ja.align(ev, v)
		}
		return out
	case []any:
		if act == nil && ja.opts.NilAsEmpty && len(e) == 0 {
			return []any{}
		}
		a, ok := act.([]any)
		if !ok {
			return act
		}
		out := make([]any, len(a))
		for i, v := range a {
			if i < len(e) {
				out[i] = ja.align(e[i], v)
			} else {
				out[i] = v
			}
		}
		return out
	case nil:
		if a, ok := act.([]any); ok && len(a) == 0 && ja.opts.NilAsEmpty {
			return nil
		}
	}
	return act
}

func dropField(v any, field string) {
	switch t := v.(type) {
	case map[string]any:
		delete(t, field)
		for _, child := range t {
			dropField(child, field)
		}
	case []any:
		for _, child := range t {
			dropField(child, field)
		}
	}
}
