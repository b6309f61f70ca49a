package telephony

import (
	"sync"

	"github.com/ClareAI/astra-comms-core/internal/telephony/codec"
)

const (
	// silenceThreshold is the mean absolute PCM amplitude below which a
	// frame counts as silence.
	silenceThreshold = 500
	// silenceFramesToFlush ends an utterance after this much trailing
	// silence (25 frames = 500 ms).
	silenceFramesToFlush = 25
	// maxUtteranceBytes caps a single utterance at ~30 s of audio.
	maxUtteranceBytes = 30 * codec.SampleRate
)

// UtteranceAssembler batches the 20 ms inbound stream frames into whole
// utterances: audio accumulates while the caller speaks and is emitted once
// half a second of silence follows.
type UtteranceAssembler struct {
	mu    sync.Mutex
	calls map[string]*utteranceState
	emit  func(callID string, audio []byte)
}

type utteranceState struct {
	buf           []byte
	silenceFrames int
	speaking      bool
}

func NewUtteranceAssembler(emit func(callID string, audio []byte)) *UtteranceAssembler {
	return &UtteranceAssembler{
		calls: make(map[string]*utteranceState),
		emit:  emit,
	}
}

// Append feeds one inbound frame. Emission happens synchronously on the
// frame that completes an utterance.
func (a *UtteranceAssembler) Append(callID string, frame []byte) {
	silent := frameIsSilence(frame)

	a.mu.Lock()
	st, ok := a.calls[callID]
	if !ok {
		st = &utteranceState{}
		a.calls[callID] = st
	}

	if !silent {
		st.speaking = true
		st.silenceFrames = 0
		st.buf = append(st.buf, frame...)
		if len(st.buf) >= maxUtteranceBytes {
			audio := st.buf
			st.buf = nil
			st.speaking = false
			a.mu.Unlock()
			a.emit(callID, audio)
			return
		}
		a.mu.Unlock()
		return
	}

	if !st.speaking {
		a.mu.Unlock()
		return
	}
	st.silenceFrames++
	st.buf = append(st.buf, frame...)
	if st.silenceFrames < silenceFramesToFlush {
		a.mu.Unlock()
		return
	}

	audio := st.buf
	st.buf = nil
	st.speaking = false
	st.silenceFrames = 0
	a.mu.Unlock()

	a.emit(callID, audio)
}

// Drop discards any partial utterance for a call.
func (a *UtteranceAssembler) Drop(callID string) {
	a.mu.Lock()
	delete(a.calls, callID)
	a.mu.Unlock()
}

// frameIsSilence decodes the frame and checks mean absolute amplitude.
func frameIsSilence(frame []byte) bool {
	pcm := codec.Decode(frame)
	if len(pcm) == 0 {
		return true
	}
	var sum int64
	for _, s := range pcm {
		if s < 0 {
			sum -= int64(s)
		} else {
			sum += int64(s)
		}
	}
	return sum/int64(len(pcm)) < silenceThreshold
}
