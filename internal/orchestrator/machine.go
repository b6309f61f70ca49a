// Package orchestrator drives per-call state machines: external telephony
// events in, audio/prompt/report actions out. Each call's events are
// serialized onto a per-session loop, so machine code never locks.
package orchestrator

import (
	"time"

	"github.com/ClareAI/astra-comms-core/internal/domain"
)

// EventKind is the closed set of external events a machine reacts to.
type EventKind string

const (
	EventAnswered  EventKind = "answered"
	EventKeypad    EventKind = "keypad"
	EventSpeech    EventKind = "speech"
	EventRecording EventKind = "recording"
	EventHangup    EventKind = "hangup"
	EventTimeout   EventKind = "timeout"
	EventInterrupt EventKind = "interrupt"
)

// Event is one external stimulus for a call. Metadata carries the
// provider's free-form JSON context (customField/context webhook fields);
// it is merged into the session on arrival.
type Event struct {
	Kind         EventKind
	Digit        string
	Text         string
	Audio        []byte
	RecordingURL string
	Seq          int64
	Timestamp    time.Time
	Metadata     map[string]interface{}
}

// ActionKind is the closed set of things a machine can ask the runtime to do.
type ActionKind string

const (
	ActionPlay     ActionKind = "play"
	ActionPrompt   ActionKind = "prompt"
	ActionReport   ActionKind = "report"
	ActionHangup   ActionKind = "hangup"
	ActionTransfer ActionKind = "transfer"
	ActionRecord   ActionKind = "record"
	ActionEndRec   ActionKind = "end_record"
	ActionConsult  ActionKind = "consult" // open-ended turn through ASR -> LLM -> TTS
)

// Action is one instruction emitted by a machine step. Play actions name a
// phrase; report actions carry the terminal outcome and an optional order
// state transition to request from the Core Backend.
type Action struct {
	Kind       ActionKind
	PhraseID   string
	Timeout    time.Duration
	Input      domain.InputKind
	Outcome    domain.CallOutcome
	Details    map[string]interface{}
	Transition domain.OrderState
	// PeerPhone is the transfer target; empty means the session's
	// configured support line.
	PeerPhone string
}

// Node is one state in a purpose's machine: entry actions on arrival, a
// digit transition table, and where timeout/hangup lead.
type Node struct {
	Entry []Action
	Input domain.InputKind

	OnDigit      map[string]domain.SessionState
	DigitInvalid domain.SessionState // where an out-of-set digit leads; "" re-prompts in place
	OnTimeout    domain.SessionState
	OnHangup     domain.SessionState

	// RepromptLimit allows the entry prompt to be replayed this many times
	// on timeout before OnTimeout applies.
	RepromptLimit int

	Terminal  bool
	OpenEnded bool
}

// Machine is a purpose's full transition table. Step maps (session state,
// event) to the next state; its only write to the session is the retry
// counter, and every other side effect lives in the returned actions.
type Machine struct {
	Purpose  domain.Purpose
	Entry    domain.SessionState
	Recorded bool
	Nodes    map[domain.SessionState]Node
}

// Step advances the machine. The session is read for its current state and
// its retry counter is updated in place; the runtime applies the returned
// state afterward.
func (m *Machine) Step(sess *domain.CallSession, ev Event) (domain.SessionState, []Action) {
	if ev.Kind == EventAnswered {
		// only the first answered event starts the machine; a retransmit
		// after progress is a no-op
		if _, started := m.Nodes[sess.State]; started {
			return sess.State, nil
		}
		return m.enter(m.Entry)
	}

	node, ok := m.Nodes[sess.State]
	if !ok {
		return sess.State, nil
	}
	if node.Terminal {
		return sess.State, nil
	}

	switch ev.Kind {
	case EventKeypad:
		if node.OnDigit == nil {
			return sess.State, nil
		}
		if dest, ok := node.OnDigit[ev.Digit]; ok {
			sess.InvalidRetries = 0
			return m.enter(dest)
		}
		if node.DigitInvalid != "" {
			return m.enter(node.DigitInvalid)
		}
		// out-of-set digit with no invalid state: replay the prompt
		return sess.State, node.Entry

	case EventTimeout:
		if node.RepromptLimit > 0 && sess.InvalidRetries < node.RepromptLimit {
			sess.InvalidRetries++
			return sess.State, node.Entry
		}
		sess.InvalidRetries = 0
		if node.OnTimeout != "" {
			return m.enter(node.OnTimeout)
		}
		return sess.State, nil

	case EventHangup:
		if node.OnHangup != "" {
			return m.enter(node.OnHangup)
		}
		return sess.State, nil

	default:
		return sess.State, nil
	}
}

// enter returns a state together with its entry actions.
func (m *Machine) enter(state domain.SessionState) (domain.SessionState, []Action) {
	node, ok := m.Nodes[state]
	if !ok {
		return state, nil
	}
	return state, node.Entry
}

// EntryActions exposes the entry node's actions, used when a call is
// answered and the machine starts.
func (m *Machine) EntryActions() []Action {
	return m.Nodes[m.Entry].Entry
}

// PhraseIDsWithinTwoHops enumerates every phrase reachable from the entry
// node within two transitions, the pre-synthesis set rendered before the
// callee picks up.
func (m *Machine) PhraseIDsWithinTwoHops() []string {
	seen := make(map[string]bool)
	var out []string

	addNode := func(state domain.SessionState) {
		node, ok := m.Nodes[state]
		if !ok {
			return
		}
		for _, a := range node.Entry {
			if (a.Kind == ActionPlay || a.Kind == ActionPrompt) && a.PhraseID != "" && !seen[a.PhraseID] {
				seen[a.PhraseID] = true
				out = append(out, a.PhraseID)
			}
		}
	}

	frontier := []domain.SessionState{m.Entry}
	addNode(m.Entry)
	for hop := 0; hop < 2; hop++ {
		var next []domain.SessionState
		for _, state := range frontier {
			node, ok := m.Nodes[state]
			if !ok {
				continue
			}
			for _, dest := range node.OnDigit {
				next = append(next, dest)
				addNode(dest)
			}
			for _, dest := range []domain.SessionState{node.DigitInvalid, node.OnTimeout, node.OnHangup} {
				if dest != "" {
					next = append(next, dest)
					addNode(dest)
				}
			}
		}
		frontier = next
	}
	return out
}
