package domain

import "time"

// EscalationTarget is who the ladder is trying to reach.
type EscalationTarget string

const (
	EscalationTargetVendor   EscalationTarget = "vendor"
	EscalationTargetRider    EscalationTarget = "rider"
	EscalationTargetCustomer EscalationTarget = "customer"
)

// EscalationFlow names the step list and the orchestrator purpose it drives.
type EscalationFlow string

const (
	FlowVendorNewOrder     EscalationFlow = "vendor.new_order"
	FlowVendorReminder     EscalationFlow = "vendor.reminder"
	FlowRiderAssign        EscalationFlow = "rider.assign"
	FlowRiderAddressUpdate EscalationFlow = "rider.address_update"
	FlowCustomerStatus     EscalationFlow = "customer.status"
	FlowCustomerDelay      EscalationFlow = "customer.delay"
)

// EscalationStatus is the lifecycle state of a running ladder.
type EscalationStatus string

const (
	EscalationStatusActive    EscalationStatus = "active"
	EscalationStatusStopped   EscalationStatus = "stopped"
	EscalationStatusCompleted EscalationStatus = "completed"
	EscalationStatusFailed    EscalationStatus = "failed"
)

// Channel is how a single ladder step reaches its target.
type Channel string

const (
	ChannelPush             Channel = "push"
	ChannelChat             Channel = "chat"
	ChannelRing             Channel = "ring"
	ChannelInteractiveVoice Channel = "interactive_voice"
	ChannelHumanOperator    Channel = "human_operator"
)

// Step is one rung of an escalation ladder: a channel fired at a cumulative
// wait from the ladder's start, never from the previous step.
type Step struct {
	Channel    Channel       `json:"channel"`
	WaitMs     int64         `json:"waitMs"`
	StopOnAck  bool          `json:"stopOnAck"`
	Recorded   bool          `json:"recorded"`
	cumulative time.Duration // resolved at Ladder load time, see escalation.Ladder
}

// CumulativeWait returns the resolved cumulative-from-start wait for the step.
func (s Step) CumulativeWait() time.Duration {
	if s.cumulative != 0 {
		return s.cumulative
	}
	return time.Duration(s.WaitMs) * time.Millisecond
}

// WithCumulative returns a copy of the step with its cumulative wait pinned,
// used by escalation.Ladder when loading the flow table.
func (s Step) WithCumulative(d time.Duration) Step {
	s.cumulative = d
	return s
}

// Escalation is a single running (or finished) ladder instance.
type Escalation struct {
	ID        string           `json:"id"` // deterministic from purpose+orderId
	Target    EscalationTarget `json:"target"`
	Flow      EscalationFlow   `json:"flow"`
	OrderID   string           `json:"orderId"`
	Steps     []Step           `json:"steps"`
	Index     int              `json:"index"`
	StartedAt time.Time        `json:"startedAt"`
	Status    EscalationStatus `json:"status"`
	Data      JSONB            `json:"data"`
}

// Key is the (target, flow, orderId) uniqueness key:
// only one active escalation may exist per key at a time.
func (e Escalation) Key() string {
	return string(e.Target) + "|" + string(e.Flow) + "|" + e.OrderID
}
