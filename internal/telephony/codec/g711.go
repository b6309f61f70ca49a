// Package codec wraps G.711 mu-law transcoding and the frame math for the
// telephony media stream: 8 kHz, 8-bit mu-law, 20 ms frames.
package codec

import "github.com/zaf/g711"

// Telephony-standard framing constants.
const (
	SampleRate    = 8000
	FrameDuration = 20 // milliseconds
	FrameBytes    = SampleRate * FrameDuration / 1000
)

// ulawSilence is the mu-law encoding of a zero sample, used to pad the
// tail frame of a clip.
var ulawSilence = g711.EncodeUlawFrame(0)

// EncodeSample converts one 16-bit linear PCM sample to mu-law.
func EncodeSample(sample int16) byte {
	return g711.EncodeUlawFrame(sample)
}

// DecodeSample converts one mu-law byte back to 16-bit linear PCM.
func DecodeSample(ulaw byte) int16 {
	return g711.DecodeUlawFrame(ulaw)
}

// Encode converts a linear PCM buffer to mu-law.
func Encode(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = g711.EncodeUlawFrame(s)
	}
	return out
}

// Decode converts a mu-law buffer to linear PCM.
func Decode(ulaw []byte) []int16 {
	out := make([]int16, len(ulaw))
	for i, b := range ulaw {
		out[i] = g711.DecodeUlawFrame(b)
	}
	return out
}

// SplitFrames chops a mu-law clip into stream-sized frames, padding the
// final partial frame with mu-law silence so the wire only ever carries
// whole 20 ms frames.
func SplitFrames(audio []byte) [][]byte {
	if len(audio) == 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(audio)+FrameBytes-1)/FrameBytes)
	for off := 0; off < len(audio); off += FrameBytes {
		end := off + FrameBytes
		if end > len(audio) {
			frame := make([]byte, FrameBytes)
			copy(frame, audio[off:])
			for i := len(audio) - off; i < FrameBytes; i++ {
				frame[i] = ulawSilence
			}
			frames = append(frames, frame)
			break
		}
		frames = append(frames, audio[off:end])
	}
	return frames
}

// ValidFrame reports whether a binary media frame is exactly one 20 ms
// mu-law frame.
func ValidFrame(frame []byte) bool {
	return len(frame) == FrameBytes
}
