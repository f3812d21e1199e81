package capture

import (
	"testing"

	"github.com/secuaas/netsentinel/pkg/frame"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// Opening a real pcap handle needs a live interface and libpcap, so this
// package has no test covering Open/Run; it only exercises the lifecycle
// bookkeeping that doesn't touch the handle.

func TestNewStartsConfigured(t *testing.T) {
	out := make(chan *frame.Record, 1)
	e := New(Config{InterfaceName: "eth0", SnapLength: 1518}, out, zap.NewNop())
	assert.Equal(t, int32(stateConfigured), e.state.Load())
}

func TestCloseWithoutOpenIsSafe(t *testing.T) {
	out := make(chan *frame.Record, 1)
	e := New(Config{InterfaceName: "eth0"}, out, zap.NewNop())

	e.Close()
	assert.Equal(t, int32(stateClosed), e.state.Load())

	// A second close must not panic on a nil handle or double-close it.
	e.Close()
}
