package testutils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the part of *testing.T the asserters use.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
}

// TextAssertOptions control how CLI output is normalized before comparison.
type TextAssertOptions struct {
	NormalizeLineEndings     bool `default:"true"` // CRLF and raw-mode "\r\n" become "\n"
	StripANSI                bool `default:"true"` // drop color and cursor escape sequences
	TrimSpace                bool `default:"false"`
	IgnoreTrailingWhitespace bool `default:"false"`
	Colorize                 bool `default:"false"` // color the diff on failure
}

// TextOption configures a TextAsserter
type TextOption func(*TextAssertOptions)

func WithTrimSpace() TextOption {
	return func(o *TextAssertOptions) { o.TrimSpace = true }
}

func WithIgnoreTrailingWhitespace() TextOption {
	return func(o *TextAssertOptions) { o.IgnoreTrailingWhitespace = true }
}

func WithRawLineEndings() TextOption {
	return func(o *TextAssertOptions) { o.NormalizeLineEndings = false }
}

func WithANSI() TextOption {
	return func(o *TextAssertOptions) { o.StripANSI = false }
}

func WithColorDiff() TextOption {
	return func(o *TextAssertOptions) { o.Colorize = true }
}

// TextAsserter compares text and reports a unified diff on mismatch.
type TextAsserter struct {
	t    TestingT
	opts TextAssertOptions
}

func NewTextAsserter(t TestingT, opts ...TextOption) *TextAsserter {
	ta := &TextAsserter{t: t}
	defaults.SetDefaults(&ta.opts)
	for _, opt := range opts {
		opt(&ta.opts)
	}
	return ta
}

// Options returns the effective options.
func (ta *TextAsserter) Options() TextAssertOptions {
	return ta.opts
}

// Assert fails the test when actual differs from expected after normalization.
func (ta *TextAsserter) Assert(actual, expected string) bool {
	ta.t.Helper()
	if d := ta.Diff(actual, expected); d != "" {
		ta.t.Errorf("text mismatch:\n%s", d)
		return false
	}
	return true
}

// Diff returns "" when the texts match, otherwise a unified diff.
func (ta *TextAsserter) Diff(actual, expected string) string {
	a, e := ta.normalize(actual), ta.normalize(expected)
	if a == e {
		return ""
	}
	edits := myers.ComputeEdits("", e, a)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	if ta.opts.Colorize {
		unified = colorizeDiff(unified)
	}
	return unified
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

func (ta *TextAsserter) normalize(s string) string {
	if ta.opts.StripANSI {
		s = ansiEscape.ReplaceAllString(s, "")
	}
	if ta.opts.NormalizeLineEndings {
		s = strings.ReplaceAll(s, "\r\n", "\n")
	}
	if ta.opts.IgnoreTrailingWhitespace {
		lines := strings.Split(s, "\n")
		for i, l := range lines {
			lines[i] = strings.TrimRight(l, " \t")
		}
		s = strings.Join(lines, "\n")
	}
	if ta.opts.TrimSpace {
		s = strings.TrimSpace(s)
	}
	return s
}

func colorizeDiff(diff string) string {
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	for _, c := range []*color.Color{red, green, cyan} {
		c.EnableColor()
	}

	lines := strings.Split(diff, "\n")
	for i, l := range lines {
		switch {
		case strings.HasPrefix(l, "@@"):
			lines[i] = cyan.Sprint(l)
		case strings.HasPrefix(l, "---"), strings.HasPrefix(l, "+++"):
		case strings.HasPrefix(l, "-"):
			lines[i] = red.Sprint(visibleWhitespace(l))
		case strings.HasPrefix(l, "+"):
			lines[i] = green.Sprint(visibleWhitespace(l))
		}
	}
	return strings.Join(lines, "\n")
}

// visibleWhitespace shows spaces, tabs and carriage returns.
func visibleWhitespace(l string) string {
	return strings.NewReplacer(" ", "·", "\t", "→", "\r", "␍").Replace(l)
}
