//go:build test

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/sppctl/internal/testutils"
)

// Addresses of the default mock registry
const (
	TestHC06Address  = "98:D3:31:F5:B9:E7"
	TestESP32Address = "24:0A:C4:00:00:01"
)

// CommandTestSuite extends MockAdapterSuite with command execution helpers.
// All cmd/sppctl test suites should embed it.
type CommandTestSuite struct {
	testutils.MockAdapterSuite
}

// SetupTest resets every flag so values do not leak between tests.
func (s *CommandTestSuite) SetupTest() {
	color.NoColor = true
	resetFlags(rootCmd)
	s.MockAdapterSuite.SetupTest()
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// ExecuteCommand runs the root command with args and stdin, returning
// stdout and stderr separately.
func (s *CommandTestSuite) ExecuteCommand(stdin string, args ...string) (stdout, stderr string, err error) {
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(io.NopCloser(strings.NewReader(stdin)))
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	}()

	_, err = rootCmd.ExecuteC()
	return out.String(), errOut.String(), err
}

// Text returns a text asserter for CLI output.
func (s *CommandTestSuite) Text() *testutils.TextAsserter {
	return testutils.NewTextAsserter(s.T())
}

// JSON returns a JSON asserter.
func (s *CommandTestSuite) JSON() *testutils.JSONAsserter {
	return testutils.NewJSONAsserter(s.T())
}

// UseAdapter replaces the default registry for the current test.
func (s *CommandTestSuite) UseAdapter(b *testutils.AdapterBuilder) {
	s.AdapterBuilder = b
	s.MockAdapterSuite.SetupTest()
}

// writeConfig writes a YAML config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sppctl.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// hangupWhenConnected waits for the first socket to peer and hangs it up.
func hangupWhenConnected(peer *testutils.FakePeer) {
	for i := 0; i < 500; i++ {
		if peer.Socket() != nil {
			peer.Hangup()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}
