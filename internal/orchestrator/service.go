package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-comms-core/internal/backend"
	"github.com/ClareAI/astra-comms-core/internal/core/event"
	"github.com/ClareAI/astra-comms-core/internal/core/session"
	"github.com/ClareAI/astra-comms-core/internal/domain"
	"github.com/ClareAI/astra-comms-core/internal/providers"
	"github.com/ClareAI/astra-comms-core/internal/repository"
	"github.com/ClareAI/astra-comms-core/internal/storage"
	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"github.com/ClareAI/astra-comms-core/pkg/twilio"
	"go.uber.org/zap"
)

// CallPlacer is the outbound-call seam, implemented by pkg/twilio.
type CallPlacer interface {
	PlaceCall(req twilio.PlaceCallRequest) (string, error)
	TransferCall(callID, peerPhone string) error
	EndCall(callID string) error
}

// AudioSink delivers synthesized audio onto a call's media stream. Play
// returns false when no stream is attached yet; Interrupt drops any queued
// outbound audio (barge-in).
type AudioSink interface {
	Play(callID string, audio []byte, mark string) bool
	Interrupt(callID string)
}

// AckNotifier is told when a call reaches a terminal outcome, so the
// escalation engine can cancel remaining ladder steps.
type AckNotifier func(orderID string, purpose domain.Purpose, outcome domain.CallOutcome)

// StartCallRequest describes an orchestrated outbound call.
type StartCallRequest struct {
	Purpose  domain.Purpose
	OrderID  string
	PartyID  string
	To       string
	CallerID string
	Language string
	Recorded bool
	Metadata domain.JSONB
}

const eventQueueDepth = 32

// Service owns every live call loop. All events for one call are serialized
// onto that call's loop goroutine; cross-call state lives in the session
// store and template cache, which lock internally.
type Service struct {
	store     *session.Store
	router    *providers.Router
	templates *storage.TemplateCache
	backend   *backend.Client
	repos     repository.RepositoryManager
	placer    CallPlacer
	sink      AudioSink
	bus       event.EventBus
	responder Responder

	defaultLang string
	voice       string

	mu    sync.Mutex
	loops map[string]*callLoop
	ack   AckNotifier
}

type callLoop struct {
	callID  string
	machine *Machine
	sess    *domain.CallSession
	events  chan Event
	cancel  context.CancelFunc

	// fields below are touched only by the loop goroutine
	timer       *time.Timer
	reported    bool
	lastSeq     int64
	lastEventAt time.Time
	ttsRetried  bool
}

func NewService(
	store *session.Store,
	router *providers.Router,
	templates *storage.TemplateCache,
	backendClient *backend.Client,
	repos repository.RepositoryManager,
	placer CallPlacer,
	sink AudioSink,
	bus event.EventBus,
	responder Responder,
	defaultLang, voice string,
) *Service {
	s := &Service{
		store:       store,
		router:      router,
		templates:   templates,
		backend:     backendClient,
		repos:       repos,
		placer:      placer,
		sink:        sink,
		bus:         bus,
		responder:   responder,
		defaultLang: defaultLang,
		voice:       voice,
		loops:       make(map[string]*callLoop),
	}
	store.SetEvictHandler(s.onSessionEvicted)
	return s
}

// SetAckNotifier wires the escalation engine's cancel hook after both
// services exist (they reference each other).
func (s *Service) SetAckNotifier(fn AckNotifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ack = fn
}

// StartOutboundCall places a call and builds its session and loop. The
// pre-synthesis pass renders every phrase reachable within two transitions
// (plus the apology clip) while the provider is still ringing the callee.
func (s *Service) StartOutboundCall(ctx context.Context, req StartCallRequest) (string, error) {
	machine := MachineFor(req.Purpose)
	if machine == nil {
		return "", fmt.Errorf("orchestrator: no machine for purpose %s", req.Purpose)
	}

	language := req.Language
	if language == "" {
		language = s.defaultLang
	}

	callID, err := s.placer.PlaceCall(twilio.PlaceCallRequest{
		To:       req.To,
		CallerID: req.CallerID,
		Purpose:  string(req.Purpose),
		OrderID:  req.OrderID,
		Language: language,
		Recorded: req.Recorded || machine.Recorded,
	})
	if err != nil {
		return "", err
	}

	sess := &domain.CallSession{
		CallID:         callID,
		Purpose:        req.Purpose,
		OrderID:        req.OrderID,
		PartyID:        req.PartyID,
		Language:       language,
		Recorded:       req.Recorded || machine.Recorded,
		PreSynth:       make(map[string]string),
		StartedAt:      time.Now(),
		LastActivityAt: time.Now(),
		Metadata:       req.Metadata,
	}
	if err := s.store.Put(sess); err != nil {
		s.placer.EndCall(callID)
		return "", err
	}

	s.startLoop(callID, machine, sess)
	go s.preSynthesize(sess, machine)

	s.bus.Publish(event.CallPlaced, &event.CallEventData{
		CallID: callID, OrderID: req.OrderID, Purpose: string(req.Purpose),
	})
	return callID, nil
}

// AttachInboundCall builds a session for a call that originated at the
// Telephony Provider (an inbound customer call, or the answer webhook of a
// placed call racing the placement response).
func (s *Service) AttachInboundCall(callID string, purpose domain.Purpose, orderID, partyID, language string) error {
	machine := MachineFor(purpose)
	if machine == nil {
		return fmt.Errorf("orchestrator: no machine for purpose %s", purpose)
	}
	if language == "" {
		language = s.defaultLang
	}

	sess, ok := s.store.Get(callID)
	if !ok {
		sess = &domain.CallSession{
			CallID:         callID,
			Purpose:        purpose,
			OrderID:        orderID,
			PartyID:        partyID,
			Language:       language,
			Recorded:       machine.Recorded,
			PreSynth:       make(map[string]string),
			StartedAt:      time.Now(),
			LastActivityAt: time.Now(),
		}
		if err := s.store.Put(sess); err != nil {
			return err
		}
		go s.preSynthesize(sess, machine)
	}

	s.mu.Lock()
	_, exists := s.loops[callID]
	s.mu.Unlock()
	if !exists {
		s.startLoop(callID, machine, sess)
	}
	return nil
}

// HandleEvent enqueues an event for a call. Events for unknown calls are
// dropped with a warning — the provider may retransmit, and an unknown id
// is never an error.
func (s *Service) HandleEvent(callID string, ev Event) {
	s.mu.Lock()
	loop, ok := s.loops[callID]
	s.mu.Unlock()
	if !ok {
		logger.Base().Warn("event for unknown call dropped",
			zap.String("call_id", callID), zap.String("event", string(ev.Kind)))
		return
	}

	select {
	case loop.events <- ev:
	default:
		logger.Base().Warn("event queue full, dropping event",
			zap.String("call_id", callID), zap.String("event", string(ev.Kind)))
	}
}

// HasSession reports whether a call id is known to the orchestrator.
func (s *Service) HasSession(callID string) bool {
	_, ok := s.store.Get(callID)
	return ok
}

func (s *Service) startLoop(callID string, machine *Machine, sess *domain.CallSession) *callLoop {
	ctx, cancel := context.WithCancel(context.Background())
	loop := &callLoop{
		callID:  callID,
		machine: machine,
		sess:    sess,
		events:  make(chan Event, eventQueueDepth),
		cancel:  cancel,
	}

	s.mu.Lock()
	s.loops[callID] = loop
	s.mu.Unlock()

	go s.run(ctx, loop)
	return loop
}

func (s *Service) run(ctx context.Context, loop *callLoop) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-loop.events:
			s.process(ctx, loop, ev)
		}
	}
}

func (s *Service) process(ctx context.Context, loop *callLoop, ev Event) {
	sess := loop.sess

	// duplicate suppression: a retransmitted event is identified by its
	// monotonic sequence (or timestamp when the provider sends none)
	if ev.Seq > 0 {
		if ev.Seq <= loop.lastSeq {
			logger.Base().Info("duplicate event dropped",
				zap.String("call_id", loop.callID), zap.Int64("seq", ev.Seq))
			return
		}
		loop.lastSeq = ev.Seq
	} else if !ev.Timestamp.IsZero() && ev.Timestamp.Before(loop.lastEventAt) {
		logger.Base().Info("stale event dropped", zap.String("call_id", loop.callID))
		return
	}
	if !ev.Timestamp.IsZero() {
		loop.lastEventAt = ev.Timestamp
	}
	s.store.Touch(loop.callID)
	loop.stopTimer()

	for k, v := range ev.Metadata {
		sessMetaSet(sess, k, v)
	}

	if ev.Kind == EventInterrupt {
		// barge-in: stop outbound audio and go straight back to collecting
		// input for the current state
		s.sink.Interrupt(loop.callID)
		s.armPromptTimer(loop, sess)
		return
	}

	if ev.Kind == EventHangup {
		if _, started := loop.machine.Nodes[sess.State]; !started {
			// the call ended before it was answered (no-answer, busy,
			// failed): nothing played, but the outcome is still reported
			s.report(ctx, loop, sess, domain.OutcomeNoAction,
				map[string]interface{}{"answered": false}, "")
			s.teardown(loop.callID, "unanswered")
			return
		}
	}

	node := loop.machine.Nodes[sess.State]
	if node.OpenEnded && (ev.Kind == EventSpeech || ev.Kind == EventRecording) {
		s.consult(ctx, loop, sess, ev)
		return
	}

	next, actions := loop.machine.Step(sess, ev)
	sess.State = next
	s.execute(ctx, loop, sess, actions)
}

func (s *Service) execute(ctx context.Context, loop *callLoop, sess *domain.CallSession, actions []Action) {
	for _, action := range actions {
		switch action.Kind {
		case ActionPlay:
			if !s.play(ctx, loop, sess, action.PhraseID) {
				return
			}

		case ActionPrompt:
			if !s.play(ctx, loop, sess, action.PhraseID) {
				return
			}
			loop.timer = time.AfterFunc(action.Timeout, func() {
				s.HandleEvent(loop.callID, Event{Kind: EventTimeout, Timestamp: time.Now()})
			})

		case ActionReport:
			s.report(ctx, loop, sess, action.Outcome, action.Details, action.Transition)

		case ActionRecord:
			logger.Base().Info("recording started", zap.String("call_id", loop.callID))
			sessMetaSet(sess, "recording", true)

		case ActionEndRec:
			sessMetaSet(sess, "recording", false)

		case ActionConsult:
			// consult runs from inbound speech events; the entry marker
			// needs no work here

		case ActionTransfer:
			peer := action.PeerPhone
			if peer == "" {
				if v, ok := sess.Metadata["supportPhone"].(string); ok {
					peer = v
				}
			}
			if peer == "" {
				logger.Base().Warn("transfer requested with no peer configured, hanging up",
					zap.String("call_id", loop.callID))
				s.hangup(loop)
				return
			}
			if err := s.placer.TransferCall(loop.callID, peer); err != nil {
				logger.Base().Error("transfer failed",
					zap.String("call_id", loop.callID), zap.Error(err))
				s.hangup(loop)
				return
			}
			// the peer owns the call from here
			s.teardown(loop.callID, "transferred")
			return

		case ActionHangup:
			s.hangup(loop)
			return
		}
	}
}

// play resolves a phrase to audio (template cache first, fresh synthesis on
// miss) and pushes it to the media stream. Synthesis gets one retry; a
// second failure degrades the call to a spoken-apology close with outcome
// failed_tts. Returns false when the call is being torn down.
func (s *Service) play(ctx context.Context, loop *callLoop, sess *domain.CallSession, phraseID string) bool {
	audio, err := s.phraseAudio(ctx, sess, phraseID)
	if err != nil {
		if loop.ttsRetried {
			s.failCall(ctx, loop, sess, domain.OutcomeFailedTTS)
			return false
		}
		loop.ttsRetried = true
		audio, err = s.phraseAudio(ctx, sess, phraseID)
		if err != nil {
			s.failCall(ctx, loop, sess, domain.OutcomeFailedTTS)
			return false
		}
	}

	if !s.sink.Play(loop.callID, audio, phraseID) {
		logger.Base().Warn("no media stream attached, audio dropped",
			zap.String("call_id", loop.callID), zap.String("phrase", phraseID))
	}
	return true
}

// phraseAudio returns cached audio for a phrase or synthesizes and caches
// it. The session's TTS provider is pinned on first success so one call
// never hops voices mid-conversation.
func (s *Service) phraseAudio(ctx context.Context, sess *domain.CallSession, phraseID string) ([]byte, error) {
	key := storage.TemplateKey{
		PhraseID: templatePhraseID(phraseID, sess),
		Language: sess.Language,
		Voice:    s.voice,
	}
	if audio, ok := s.templates.Get(key); ok {
		return audio, nil
	}

	text := PhraseText(phraseID, sess.Language, sess)
	if text == "" {
		return nil, fmt.Errorf("orchestrator: unknown phrase %s", phraseID)
	}

	result, provider, err := s.router.Synthesize(ctx, providers.SynthesizeRequest{
		Text:     text,
		Language: sess.Language,
		Voice:    s.voice,
	}, sess.Provider.TTS)
	if err != nil {
		return nil, err
	}
	s.templates.Put(key, result.Audio)

	// the pre-synthesis goroutine and the call loop both land here
	s.mu.Lock()
	sess.Provider.TTS = provider
	sess.PreSynth[phraseID] = key.String()
	s.mu.Unlock()
	return result.Audio, nil
}

// preSynthesize renders the two-hop phrase set plus the apology clip while
// the call is still being connected.
func (s *Service) preSynthesize(sess *domain.CallSession, machine *Machine) {
	ctx, cancel := context.WithTimeout(context.Background(), providers.SynthesisTimeout)
	defer cancel()

	phrases := append(machine.PhraseIDsWithinTwoHops(), ApologyPhraseID)
	for _, phraseID := range phrases {
		if _, err := s.phraseAudio(ctx, sess, phraseID); err != nil {
			logger.Base().Warn("pre-synthesis failed, will retry on demand",
				zap.String("call_id", sess.CallID),
				zap.String("phrase", phraseID),
				zap.Error(err))
			if errors.Is(err, providers.ErrProvidersExhausted) {
				return
			}
		}
	}
}

// consult runs one free-form turn: recognize, ask the language model,
// speak the reply. The 10-turn cap forces a polite close.
func (s *Service) consult(ctx context.Context, loop *callLoop, sess *domain.CallSession, ev Event) {
	if sess.OpenEndedTurns >= domain.MaxOpenEndedTurns {
		s.enterState(ctx, loop, sess, domain.StateClosing)
		return
	}

	text := ev.Text
	if text == "" && len(ev.Audio) > 0 {
		recognized, err := s.recognizeWithRetry(ctx, sess, ev.Audio)
		if err != nil {
			s.failCall(ctx, loop, sess, domain.OutcomeFailedASR)
			return
		}
		text = recognized
	}
	if text == "" {
		s.enterState(ctx, loop, sess, domain.StateMissed)
		return
	}

	reply, err := s.responder.Reply(ctx, sess.Language, sess.RecentTurns(5), text)
	if err != nil {
		logger.Base().Error("language model reply failed",
			zap.String("call_id", loop.callID), zap.Error(err))
		s.failCall(ctx, loop, sess, domain.OutcomeFailedBack)
		return
	}

	sess.AppendTurn(domain.Turn{Role: "caller", Text: text, Timestamp: time.Now()})
	sess.AppendTurn(domain.Turn{Role: "system", Text: reply, Timestamp: time.Now()})
	sess.OpenEndedTurns++
	sess.State = stateConversation

	result, provider, err := s.router.Synthesize(ctx, providers.SynthesizeRequest{
		Text:     reply,
		Language: sess.Language,
		Voice:    s.voice,
	}, sess.Provider.TTS)
	if err != nil {
		s.failCall(ctx, loop, sess, domain.OutcomeFailedTTS)
		return
	}
	sess.Provider.TTS = provider
	s.sink.Play(loop.callID, result.Audio, "reply")
	s.armPromptTimer(loop, sess)
}

// recognizeWithRetry gives recognition one extra route attempt before the
// call degrades, matching the required-input retry rule.
func (s *Service) recognizeWithRetry(ctx context.Context, sess *domain.CallSession, audio []byte) (string, error) {
	req := providers.RecognizeRequest{Audio: audio, Language: sess.Language}
	result, provider, err := s.router.Recognize(ctx, req, sess.Provider.ASR)
	if err != nil {
		result, provider, err = s.router.Recognize(ctx, req, "")
		if err != nil {
			return "", err
		}
	}
	sess.Provider.ASR = provider
	return result.Transcript, nil
}

// failCall closes a failing call the polite way: one terminal report, the
// pre-synthesized apology in the session's language, then hangup. The line
// is never left silent.
func (s *Service) failCall(ctx context.Context, loop *callLoop, sess *domain.CallSession, outcome domain.CallOutcome) {
	s.report(ctx, loop, sess, outcome, map[string]interface{}{"failure": string(outcome)}, "")

	key := storage.TemplateKey{PhraseID: ApologyPhraseID, Language: sess.Language, Voice: s.voice}
	if audio, ok := s.templates.Get(key); ok {
		s.sink.Play(loop.callID, audio, "apology")
	}
	sess.State = domain.StateClosing
	s.hangup(loop)
}

// enterState forces a transition and runs the new state's entry actions.
func (s *Service) enterState(ctx context.Context, loop *callLoop, sess *domain.CallSession, state domain.SessionState) {
	node, ok := loop.machine.Nodes[state]
	if !ok {
		return
	}
	sess.State = state
	s.execute(ctx, loop, sess, node.Entry)
}

// report delivers the terminal outcome exactly once per call: Core Backend
// result report, optional order transition, durable outcome log, event bus,
// and the escalation-cancel hook.
func (s *Service) report(ctx context.Context, loop *callLoop, sess *domain.CallSession, outcome domain.CallOutcome, details map[string]interface{}, transition domain.OrderState) {
	if loop.reported {
		return
	}
	loop.reported = true

	if err := s.backend.ReportCallResult(ctx, backend.CallResult{
		CallID:  sess.CallID,
		Outcome: outcome,
		Details: details,
	}); err != nil && !errors.Is(err, backend.ErrQueued) {
		logger.Base().Error("call result report failed",
			zap.String("call_id", sess.CallID), zap.Error(err))
	}

	if transition != "" && sess.OrderID != "" {
		err := s.backend.ReportTransition(ctx, sess.OrderID, transition, "comms-core", string(sess.Purpose))
		if err != nil && !errors.Is(err, backend.ErrQueued) {
			logger.Base().Error("transition report failed",
				zap.String("order_id", sess.OrderID),
				zap.String("to_state", string(transition)),
				zap.Error(err))
		}
	}

	if s.repos != nil {
		if err := s.repos.CallResult().Upsert(ctx, &domain.CallResultLog{
			CallID:  sess.CallID,
			OrderID: sess.OrderID,
			Purpose: string(sess.Purpose),
			Outcome: string(outcome),
			Details: details,
		}); err != nil {
			logger.Base().Warn("call result log write failed",
				zap.String("call_id", sess.CallID), zap.Error(err))
		}
	}

	s.bus.Publish(event.CallEnded, &event.CallEventData{
		CallID:  sess.CallID,
		OrderID: sess.OrderID,
		Purpose: string(sess.Purpose),
		Outcome: string(outcome),
	})

	s.mu.Lock()
	ack := s.ack
	s.mu.Unlock()
	if ack != nil {
		ack(sess.OrderID, sess.Purpose, outcome)
	}
}

func (s *Service) hangup(loop *callLoop) {
	s.placer.EndCall(loop.callID)
	s.teardown(loop.callID, "hangup")
}

// teardown removes the loop and session. Outstanding work observes the
// loop context cancellation.
func (s *Service) teardown(callID, reason string) {
	s.mu.Lock()
	loop, ok := s.loops[callID]
	if ok {
		delete(s.loops, callID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	loop.stopTimer()
	loop.cancel()
	s.store.Remove(callID)
	logger.Base().Info("session torn down", zap.String("call_id", callID), zap.String("reason", reason))
}

// onSessionEvicted is the store's inactivity-sweep callback. A swept call
// that never reported gets its terminal report here through a hangup event:
// no-action if it was never answered, otherwise whatever its machine's
// hangup path reports. A call that already reported is not reported again.
func (s *Service) onSessionEvicted(callID string) {
	s.mu.Lock()
	loop, ok := s.loops[callID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case loop.events <- Event{Kind: EventHangup, Timestamp: time.Now()}:
		// the loop reports a terminal outcome (if none yet) and tears down
	default:
		s.teardown(callID, "inactivity")
	}
}

// armPromptTimer re-arms the current state's input timeout, used after
// barge-in and after each free-form reply.
func (s *Service) armPromptTimer(loop *callLoop, sess *domain.CallSession) {
	node, ok := loop.machine.Nodes[sess.State]
	if !ok {
		return
	}
	timeout := defaultPromptTimeout
	for _, a := range node.Entry {
		if a.Kind == ActionPrompt && a.Timeout > 0 {
			timeout = a.Timeout
		}
	}
	loop.timer = time.AfterFunc(timeout, func() {
		s.HandleEvent(loop.callID, Event{Kind: EventTimeout, Timestamp: time.Now()})
	})
}

func (l *callLoop) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func sessMetaSet(sess *domain.CallSession, key string, value interface{}) {
	if sess.Metadata == nil {
		sess.Metadata = domain.JSONB{}
	}
	sess.Metadata[key] = value
}
