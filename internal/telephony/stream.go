// Package telephony owns the media-stream plumbing between the Telephony
// Provider and the orchestrator: the bidirectional WebSocket audio bridge
// and its control-frame protocol.
package telephony

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"

	"github.com/ClareAI/astra-comms-core/internal/telephony/codec"
	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"go.uber.org/zap"
)

// outboundQueueFrames is the bounded outbound queue: 2 s of audio at 20 ms
// per frame. Once full, the oldest frame is dropped.
const outboundQueueFrames = 100

// ControlFrame is the JSON control message interleaved with binary media
// frames on the stream socket.
type ControlFrame struct {
	Event  string `json:"event"` // start | media | stop | mark
	CallID string `json:"callId,omitempty"`
	Mark   string `json:"mark,omitempty"`
	Seq    uint16 `json:"seq,omitempty"`
}

// InboundHandler receives decoded inbound audio frames for a call.
type InboundHandler func(callID string, frame []byte)

// MarkHandler is told when the far end acknowledges a named mark, i.e. all
// audio queued before the mark has been played out.
type MarkHandler func(callID string, mark string)

// StreamBridge pumps audio both ways over one provider WebSocket. Outbound
// frames are paced at the codec frame duration and numbered with an RTP
// sequencer so mark acknowledgements can name an exact stream position.
type StreamBridge struct {
	callID    string
	conn      *websocket.Conn
	onInbound InboundHandler
	onMark    MarkHandler

	sequencer rtp.Sequencer

	mu       sync.Mutex
	outbound []queuedFrame
	notify   chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

type queuedFrame struct {
	payload []byte
	mark    string // non-empty on the last frame of a clip
}

func NewStreamBridge(callID string, conn *websocket.Conn, onInbound InboundHandler, onMark MarkHandler) *StreamBridge {
	return &StreamBridge{
		callID:    callID,
		conn:      conn,
		onInbound: onInbound,
		onMark:    onMark,
		sequencer: rtp.NewRandomSequencer(),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Run starts the reader and writer pumps and blocks until the socket closes.
func (b *StreamBridge) Run() {
	go b.writePump()
	b.readPump()
}

// EnqueueClip splits a synthesized clip into wire frames and queues them.
// The final frame carries the mark name so playback completion can be
// observed. If the queue is over the 2 s budget, the oldest frames are
// dropped first.
func (b *StreamBridge) EnqueueClip(audio []byte, mark string) {
	frames := codec.SplitFrames(audio)
	if len(frames) == 0 {
		return
	}

	b.mu.Lock()
	for i, frame := range frames {
		qf := queuedFrame{payload: frame}
		if i == len(frames)-1 {
			qf.mark = mark
		}
		b.outbound = append(b.outbound, qf)
	}
	dropped := 0
	for len(b.outbound) > outboundQueueFrames {
		b.outbound = b.outbound[1:]
		dropped++
	}
	b.mu.Unlock()

	if dropped > 0 {
		logger.Base().Warn("outbound audio queue over budget, dropped oldest frames",
			zap.String("call_id", b.callID), zap.Int("dropped", dropped))
	}
	b.wake()
}

// ClearOutbound drops every queued frame; used on barge-in so the caller
// can speak over the system immediately.
func (b *StreamBridge) ClearOutbound() {
	b.mu.Lock()
	b.outbound = nil
	b.mu.Unlock()
}

// Close tears the socket down; safe to call more than once.
func (b *StreamBridge) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.conn.Close()
	})
}

func (b *StreamBridge) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *StreamBridge) readPump() {
	defer b.Close()
	b.conn.SetReadLimit(64 << 10)

	for {
		msgType, data, err := b.conn.ReadMessage()
		if err != nil {
			logger.Base().Info("stream closed", zap.String("call_id", b.callID), zap.Error(err))
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if !codec.ValidFrame(data) {
				logger.Base().Warn("dropping malformed media frame",
					zap.String("call_id", b.callID), zap.Int("bytes", len(data)))
				continue
			}
			b.onInbound(b.callID, data)

		case websocket.TextMessage:
			var ctrl ControlFrame
			if err := json.Unmarshal(data, &ctrl); err != nil {
				logger.Base().Warn("dropping malformed control frame", zap.String("call_id", b.callID), zap.Error(err))
				continue
			}
			switch ctrl.Event {
			case "start":
				logger.Base().Info("media stream started", zap.String("call_id", b.callID))
			case "mark":
				if b.onMark != nil {
					b.onMark(b.callID, ctrl.Mark)
				}
			case "stop":
				logger.Base().Info("media stream stopped", zap.String("call_id", b.callID))
				return
			}
		}
	}
}

// writePump paces queued frames onto the wire at one frame per frame
// duration, sending a mark control frame after the last frame of a clip.
func (b *StreamBridge) writePump() {
	ticker := time.NewTicker(codec.FrameDuration * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-b.notify:
		case <-ticker.C:
		}

		b.mu.Lock()
		if len(b.outbound) == 0 {
			b.mu.Unlock()
			continue
		}
		frame := b.outbound[0]
		b.outbound = b.outbound[1:]
		b.mu.Unlock()

		seq := b.sequencer.NextSequenceNumber()
		if err := b.conn.WriteMessage(websocket.BinaryMessage, frame.payload); err != nil {
			logger.Base().Warn("stream write failed", zap.String("call_id", b.callID), zap.Error(err))
			b.Close()
			return
		}
		if frame.mark != "" {
			ctrl, _ := json.Marshal(ControlFrame{Event: "mark", CallID: b.callID, Mark: frame.mark, Seq: seq})
			if err := b.conn.WriteMessage(websocket.TextMessage, ctrl); err != nil {
				b.Close()
				return
			}
		}
	}
}
