package telephony

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClareAI/astra-comms-core/internal/telephony/codec"
)

// queue-only bridge: the pumps are never started, so conn stays untouched.
func newQueueBridge() *StreamBridge {
	return NewStreamBridge("C-1", nil, nil, nil)
}

func TestEnqueueClipSplitsAndMarksLastFrame(t *testing.T) {
	b := newQueueBridge()

	b.EnqueueClip(make([]byte, codec.FrameBytes*3), "greeting")

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.outbound, 3)
	assert.Empty(t, b.outbound[0].mark)
	assert.Empty(t, b.outbound[1].mark)
	assert.Equal(t, "greeting", b.outbound[2].mark)
	for _, f := range b.outbound {
		assert.True(t, codec.ValidFrame(f.payload))
	}
}

func TestEnqueuePreservesClipOrder(t *testing.T) {
	b := newQueueBridge()

	first := make([]byte, codec.FrameBytes)
	for i := range first {
		first[i] = 1
	}
	second := make([]byte, codec.FrameBytes)
	for i := range second {
		second[i] = 2
	}

	b.EnqueueClip(first, "a")
	b.EnqueueClip(second, "b")

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.outbound, 2)
	assert.Equal(t, byte(1), b.outbound[0].payload[0], "clips must play in synthesis completion order")
	assert.Equal(t, byte(2), b.outbound[1].payload[0])
}

func TestEnqueueDropsOldestOverBudget(t *testing.T) {
	b := newQueueBridge()

	// half a budget of filler, then a clip that overflows it
	b.EnqueueClip(make([]byte, codec.FrameBytes*outboundQueueFrames/2), "old")
	big := make([]byte, codec.FrameBytes*outboundQueueFrames)
	for i := range big {
		big[i] = 9
	}
	b.EnqueueClip(big, "new")

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Len(t, b.outbound, outboundQueueFrames)
	// everything surviving belongs to the newest clip
	for _, f := range b.outbound {
		assert.Equal(t, byte(9), f.payload[0])
	}
	assert.Equal(t, "new", b.outbound[len(b.outbound)-1].mark)
}

func TestClearOutboundFlushesQueue(t *testing.T) {
	b := newQueueBridge()

	b.EnqueueClip(make([]byte, codec.FrameBytes*5), "clip")
	b.ClearOutbound()

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Empty(t, b.outbound, "barge-in must drop all queued audio")
}

func TestEnqueueEmptyClipIsNoOp(t *testing.T) {
	b := newQueueBridge()
	b.EnqueueClip(nil, "x")

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Empty(t, b.outbound)
}
