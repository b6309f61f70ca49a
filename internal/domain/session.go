package domain

import "time"

// InputKind is the closed set of prompt input kinds a state can request.
type InputKind string

const (
	InputKindDTMF      InputKind = "dtmf"
	InputKindSpeech    InputKind = "speech"
	InputKindOpenEnded InputKind = "open-ended"
)

// Purpose is the named reason for a call; it selects both the escalation
// flow and the orchestrator state machine.
type Purpose string

const (
	PurposeVendorNewOrder     Purpose = "vendor.new_order"
	PurposeVendorReminder     Purpose = "vendor.reminder"
	PurposeRiderAssign        Purpose = "rider.assign"
	PurposeRiderAddressUpdate Purpose = "rider.address_update"
	PurposeInboundCustomer    Purpose = "inbound.customer"
)

// Turn is one exchange in a free-form conversation.
type Turn struct {
	Role      string    `json:"role"` // "caller" | "system"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// CallOutcome is the well-defined terminal result of a call session,
// reported exactly once to the Core Backend.
type CallOutcome string

const (
	OutcomeAccepted   CallOutcome = "accepted"
	OutcomeRejected   CallOutcome = "rejected"
	OutcomeNoAction   CallOutcome = "no_action"
	OutcomeMissed     CallOutcome = "missed"
	OutcomeFailedTTS  CallOutcome = "failed_tts"
	OutcomeFailedASR  CallOutcome = "failed_asr"
	OutcomeFailedBack CallOutcome = "failed_backend"
)

// SessionState is a node name in a purpose's state machine.
type SessionState string

const (
	StateGreeting SessionState = "greeting"
	StateClosing  SessionState = "closing"
	StateInvalid  SessionState = "invalid"
	StateMissed   SessionState = "missed"
	StateTerminal SessionState = "terminal"
)

// ProviderSelection pins which ASR/TTS driver a session is bound to, set on
// first successful route and reused for the rest of the call so a single
// conversation doesn't hop providers mid-sentence.
type ProviderSelection struct {
	ASR string `json:"asr,omitempty"`
	TTS string `json:"tts,omitempty"`
}

// CallSession is the per-call state: created on
// placement or first inbound webhook for a new callId, destroyed on a
// terminal telephony status or inactivity sweep.
type CallSession struct {
	CallID              string            `json:"callId"`
	Purpose             Purpose           `json:"purpose"`
	OrderID             string            `json:"orderId,omitempty"`
	PartyID             string            `json:"partyId,omitempty"`
	Language            string            `json:"language"`
	Recorded            bool              `json:"recorded"`
	State               SessionState      `json:"state"`
	ConversationHistory []Turn            `json:"conversationHistory"`
	PreSynth            map[string]string `json:"preSynth"` // phrase key -> template cache key
	StartedAt           time.Time         `json:"startedAt"`
	LastActivityAt      time.Time         `json:"lastActivityAt"`
	LastEventSeq        int64             `json:"lastEventSeq"` // monotonic dedup watermark
	Provider            ProviderSelection `json:"provider"`
	OpenEndedTurns      int               `json:"openEndedTurns"`
	InvalidRetries      int               `json:"invalidRetries"`
	Metadata            JSONB             `json:"metadata,omitempty"`
}

// MaxConversationHistory bounds the ring of retained free-form turns.
const MaxConversationHistory = 20

// MaxOpenEndedTurns caps free-form exchanges before a forced close.
const MaxOpenEndedTurns = 10

// AppendTurn appends a turn to the session's bounded conversation ring,
// dropping the oldest entry once MaxConversationHistory is exceeded.
func (s *CallSession) AppendTurn(t Turn) {
	s.ConversationHistory = append(s.ConversationHistory, t)
	if len(s.ConversationHistory) > MaxConversationHistory {
		s.ConversationHistory = s.ConversationHistory[len(s.ConversationHistory)-MaxConversationHistory:]
	}
}

// RecentTurns returns the last n turns (or fewer if the history is shorter),
// used to build the free-form conversation context sent to the LLM seam.
func (s *CallSession) RecentTurns(n int) []Turn {
	if len(s.ConversationHistory) <= n {
		return s.ConversationHistory
	}
	return s.ConversationHistory[len(s.ConversationHistory)-n:]
}
