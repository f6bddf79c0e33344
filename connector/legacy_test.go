package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/srg/sppctl/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegacy_FourCallSurface(t *testing.T) {
	b := defaultBuilder()
	l := NewLegacy(context.Background(), newTestConnector(t, b, nil), nil)

	assert.Equal(t, "", l.ReadData(), "ReadData without a session MUST return an empty string")
	l.WriteData("ignored") // MUST NOT panic without a session
	l.StopConnection()

	assert.Equal(t, "Not found", l.StartConnection("Unknown-Device"))
	assert.Equal(t, "Connected", l.StartConnection("HC-06"))

	l.WriteData("PING\n")
	assert.Equal(t, "PONG", l.ReadData())
	assert.Equal(t, "", l.ReadData())

	l.StopConnection()
	l.StopConnection()
	assert.Equal(t, "", l.ReadData())
	assert.Equal(t, "PING\n", b.Peer("HC-06").Received())
}

func TestLegacy_ErrorStatus(t *testing.T) {
	b := testutils.CreateMockAdapter("HC-06", hc06Address).WithPowered(false)
	l := NewLegacy(context.Background(), newTestConnector(t, b, nil), testLogger())
	assert.Equal(t, "Error", l.StartConnection("HC-06"))

	b = testutils.CreateMockAdapter("HC-06", hc06Address).WithDialError(hc06Address, errors.New("refused"))
	l = NewLegacy(context.Background(), newTestConnector(t, b, nil), testLogger())
	assert.Equal(t, "Error", l.StartConnection("HC-06"))
}

func TestLegacy_SwallowsCloseErrors(t *testing.T) {
	b := defaultBuilder()
	l := NewLegacy(context.Background(), newTestConnector(t, b, nil), nil)
	require.Equal(t, "Connected", l.StartConnection("HC-06"))

	sock := b.Peer("HC-06").Socket()
	sock.OutputCloseErr = errors.New("flush failed")

	l.StopConnection()
	assert.True(t, sock.Closed())
}
