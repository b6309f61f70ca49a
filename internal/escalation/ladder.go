// Package escalation runs the time-based notification ladders: ordered
// channel attempts advancing on a monotonic clock until acknowledged or
// exhausted.
package escalation

import (
	"time"

	"github.com/ClareAI/astra-comms-core/internal/domain"
)

// Flow is one configured ladder: who it targets, which orchestrator purpose
// its voice steps drive, and the step list with cumulative waits.
type Flow struct {
	Target   domain.EscalationTarget
	Purpose  domain.Purpose
	Recorded bool
	Steps    []domain.Step
}

// Ladder is the flow table, loaded once at startup. Waits are cumulative
// from escalation start, not from the previous step.
type Ladder struct {
	flows map[domain.EscalationFlow]Flow
}

func step(channel domain.Channel, cumulative time.Duration) domain.Step {
	return domain.Step{
		Channel:   channel,
		WaitMs:    cumulative.Milliseconds(),
		StopOnAck: true,
	}.WithCumulative(cumulative)
}

// DefaultLadder builds the built-in flow table.
func DefaultLadder() *Ladder {
	return &Ladder{flows: map[domain.EscalationFlow]Flow{
		domain.FlowVendorNewOrder: {
			Target:   domain.EscalationTargetVendor,
			Purpose:  domain.PurposeVendorNewOrder,
			Recorded: true,
			Steps: []domain.Step{
				step(domain.ChannelPush, 0),
				step(domain.ChannelChat, 60*time.Second),
				step(domain.ChannelRing, 120*time.Second),
				step(domain.ChannelInteractiveVoice, 180*time.Second),
				step(domain.ChannelHumanOperator, 300*time.Second),
			},
		},
		domain.FlowVendorReminder: {
			Target:  domain.EscalationTargetVendor,
			Purpose: domain.PurposeVendorReminder,
			Steps: []domain.Step{
				step(domain.ChannelPush, 0),
				step(domain.ChannelRing, 60*time.Second),
				step(domain.ChannelInteractiveVoice, 120*time.Second),
			},
		},
		domain.FlowRiderAssign: {
			Target:  domain.EscalationTargetRider,
			Purpose: domain.PurposeRiderAssign,
			Steps: []domain.Step{
				step(domain.ChannelPush, 0),
				step(domain.ChannelChat, 60*time.Second),
				step(domain.ChannelRing, 120*time.Second),
				step(domain.ChannelInteractiveVoice, 180*time.Second),
			},
		},
		domain.FlowRiderAddressUpdate: {
			Target:   domain.EscalationTargetRider,
			Purpose:  domain.PurposeRiderAddressUpdate,
			Recorded: true,
			Steps: []domain.Step{
				step(domain.ChannelChat, 0),
				step(domain.ChannelRing, 30*time.Second),
				step(domain.ChannelInteractiveVoice, 90*time.Second),
			},
		},
		domain.FlowCustomerStatus: {
			Target: domain.EscalationTargetCustomer,
			Steps: []domain.Step{
				step(domain.ChannelPush, 0),
				step(domain.ChannelChat, 30*time.Second),
			},
		},
		domain.FlowCustomerDelay: {
			Target: domain.EscalationTargetCustomer,
			Steps: []domain.Step{
				step(domain.ChannelChat, 0),
			},
		},
	}}
}

// Flow returns the configuration for a flow name.
func (l *Ladder) Flow(flow domain.EscalationFlow) (Flow, bool) {
	f, ok := l.flows[flow]
	return f, ok
}

// FlowForPurpose maps an orchestrator purpose back to its flow, used when
// a call outcome should cancel the ladder that placed the call.
func (l *Ladder) FlowForPurpose(purpose domain.Purpose) (domain.EscalationFlow, bool) {
	for name, f := range l.flows {
		if f.Purpose == purpose && f.Purpose != "" {
			return name, true
		}
	}
	return "", false
}
