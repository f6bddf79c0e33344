package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// CreateMockAdapter returns a builder for a powered adapter with the given
// name/address pairs registered in order.
func CreateMockAdapter(nameAddressPairs ...string) *AdapterBuilder {
	if len(nameAddressPairs)%2 != 0 {
		panic("CreateMockAdapter: expected name/address pairs")
	}
	b := NewAdapterBuilder()
	for i := 0; i < len(nameAddressPairs); i += 2 {
		b.WithPairedDevice(nameAddressPairs[i], nameAddressPairs[i+1])
	}
	return b
}

// CreateMockAdapterFromJSON returns a builder configured from JSON.
func CreateMockAdapterFromJSON(jsonStrFmt string, args ...interface{}) *AdapterBuilder {
	return NewAdapterBuilder().FromJSON(jsonStrFmt, args...)
}

// LoadScript reads a file relative to the module root.
func LoadScript(relPath string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	// Navigate up to find the project root (look for go.mod file)
	projectRoot := wd
	for {
		if _, err := os.Stat(filepath.Join(projectRoot, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(projectRoot)
		if parent == projectRoot {
			return "", fmt.Errorf("could not find project root (go.mod not found)")
		}
		projectRoot = parent
	}

	data, err := os.ReadFile(filepath.Join(projectRoot, relPath))
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", relPath, err)
	}
	return string(data), nil
}
