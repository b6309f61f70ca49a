package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeRoundTripTolerance(t *testing.T) {
	// mu-law is lossy; the reconstructed sample must stay within the
	// quantization error of the original
	samples := []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000}
	for _, s := range samples {
		decoded := DecodeSample(EncodeSample(s))
		diff := int32(s) - int32(decoded)
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqual(t, diff, int32(2048), "sample %d decoded to %d", s, decoded)
	}
}

func TestDecodePreservesSign(t *testing.T) {
	assert.Positive(t, DecodeSample(EncodeSample(5000)))
	assert.Negative(t, DecodeSample(EncodeSample(-5000)))
}

func TestEncodeMonotoneOrdering(t *testing.T) {
	// louder input must never decode quieter than a softer one
	prev := DecodeSample(EncodeSample(0))
	for _, s := range []int16{50, 200, 1000, 5000, 20000, 32000} {
		cur := DecodeSample(EncodeSample(s))
		assert.GreaterOrEqual(t, cur, prev, "ordering broken at %d", s)
		prev = cur
	}
}

func TestEncodeDecodeBuffers(t *testing.T) {
	pcm := []int16{0, 100, -100, 5000, -5000}
	ulaw := Encode(pcm)
	assert.Len(t, ulaw, len(pcm))
	back := Decode(ulaw)
	assert.Len(t, back, len(pcm))
}

func TestSplitFramesWholeFrames(t *testing.T) {
	audio := make([]byte, FrameBytes*3)
	frames := SplitFrames(audio)
	assert.Len(t, frames, 3)
	for _, f := range frames {
		assert.True(t, ValidFrame(f))
	}
}

func TestSplitFramesPadsTail(t *testing.T) {
	audio := make([]byte, FrameBytes+10)
	frames := SplitFrames(audio)
	assert.Len(t, frames, 2)
	assert.True(t, ValidFrame(frames[1]))
	// padding is mu-law silence
	assert.Equal(t, byte(0xFF), frames[1][FrameBytes-1])
}

func TestSplitFramesEmpty(t *testing.T) {
	assert.Nil(t, SplitFrames(nil))
	assert.Nil(t, SplitFrames([]byte{}))
}

func TestValidFrame(t *testing.T) {
	assert.True(t, ValidFrame(make([]byte, FrameBytes)))
	assert.False(t, ValidFrame(make([]byte, FrameBytes-1)))
	assert.False(t, ValidFrame(nil))
}
