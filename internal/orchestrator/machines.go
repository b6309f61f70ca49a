package orchestrator

import (
	"time"

	"github.com/ClareAI/astra-comms-core/internal/domain"
)

// Session-machine node names beyond the shared ones in domain.
const (
	stateAckAccept    domain.SessionState = "ack_accept"
	stateSet15        domain.SessionState = "set_15"
	stateSet30        domain.SessionState = "set_30"
	stateSet45        domain.SessionState = "set_45"
	stateRejectReason domain.SessionState = "ack_reject_reason"
	stateMissedTime   domain.SessionState = "missed_time"
	stateAccepted     domain.SessionState = "accepted"
	stateRejected     domain.SessionState = "rejected"
	stateMarkReady    domain.SessionState = "mark_ready"
	stateExtend       domain.SessionState = "extend_10"
	stateConfirmed    domain.SessionState = "confirmed"
	stateEscalate     domain.SessionState = "escalate"
	stateConversation domain.SessionState = "conversation"
)

const defaultPromptTimeout = 10 * time.Second

// MachineFor returns the state machine for a purpose. Machines are value
// tables; they carry no per-call state.
func MachineFor(purpose domain.Purpose) *Machine {
	switch purpose {
	case domain.PurposeVendorNewOrder:
		return vendorNewOrderMachine()
	case domain.PurposeVendorReminder:
		return vendorReminderMachine()
	case domain.PurposeRiderAssign:
		return riderAssignMachine()
	case domain.PurposeRiderAddressUpdate:
		return riderAddressUpdateMachine()
	case domain.PurposeInboundCustomer:
		return inboundCustomerMachine()
	default:
		return nil
	}
}

// vendorNewOrderMachine: greeting with order details and an accept/reject
// prompt, then prep-minutes selection or a spoken rejection reason.
func vendorNewOrderMachine() *Machine {
	setMinutes := func(minutes int) Node {
		return Node{
			Entry: []Action{
				{Kind: ActionReport, Outcome: domain.OutcomeAccepted,
					Details:    map[string]interface{}{"accepted": true, "prepMinutes": minutes},
					Transition: domain.OrderStateProcessing},
				{Kind: ActionPlay, PhraseID: "vendor_new_order.close_accepted"},
				{Kind: ActionHangup},
			},
			Terminal: true,
		}
	}

	return &Machine{
		Purpose:  domain.PurposeVendorNewOrder,
		Entry:    domain.StateGreeting,
		Recorded: true,
		Nodes: map[domain.SessionState]Node{
			domain.StateGreeting: {
				Entry: []Action{
					{Kind: ActionPlay, PhraseID: "vendor_new_order.greeting"},
					{Kind: ActionPrompt, PhraseID: "vendor_new_order.accept_reject", Input: domain.InputKindDTMF, Timeout: defaultPromptTimeout},
				},
				Input: domain.InputKindDTMF,
				OnDigit: map[string]domain.SessionState{
					"1": stateAckAccept,
					"2": stateRejectReason,
				},
				DigitInvalid:  domain.StateInvalid,
				OnTimeout:     domain.StateMissed,
				OnHangup:      domain.StateMissed,
				RepromptLimit: 1,
			},
			stateAckAccept: {
				Entry: []Action{
					{Kind: ActionPrompt, PhraseID: "vendor_new_order.prep_minutes", Input: domain.InputKindDTMF, Timeout: defaultPromptTimeout},
				},
				Input: domain.InputKindDTMF,
				OnDigit: map[string]domain.SessionState{
					"1": stateSet15,
					"2": stateSet30,
					"3": stateSet45,
				},
				OnTimeout:     stateMissedTime,
				OnHangup:      stateMissedTime,
				RepromptLimit: 1,
			},
			stateSet15: setMinutes(15),
			stateSet30: setMinutes(30),
			stateSet45: setMinutes(45),
			stateRejectReason: {
				Entry: []Action{
					{Kind: ActionPlay, PhraseID: "vendor_new_order.reject_reason"},
					{Kind: ActionRecord},
				},
				Input: domain.InputKindSpeech,
				OnDigit: map[string]domain.SessionState{
					"#": stateRejected,
				},
				OnTimeout: stateRejected,
				OnHangup:  stateRejected,
			},
			stateRejected: {
				Entry: []Action{
					{Kind: ActionEndRec},
					{Kind: ActionReport, Outcome: domain.OutcomeRejected,
						Details: map[string]interface{}{"accepted": false}},
					{Kind: ActionPlay, PhraseID: "vendor_new_order.close_rejected"},
					{Kind: ActionHangup},
				},
				Terminal: true,
			},
			domain.StateMissed: {
				Entry: []Action{
					{Kind: ActionReport, Outcome: domain.OutcomeNoAction},
					{Kind: ActionHangup},
				},
				Terminal: true,
			},
			stateMissedTime: {
				Entry: []Action{
					{Kind: ActionReport, Outcome: domain.OutcomeNoAction,
						Details: map[string]interface{}{"stage": "prep_minutes"}},
					{Kind: ActionHangup},
				},
				Terminal: true,
			},
			domain.StateInvalid: {
				Entry: []Action{
					{Kind: ActionPlay, PhraseID: "common.invalid_try_again"},
					{Kind: ActionPrompt, PhraseID: "vendor_new_order.accept_reject", Input: domain.InputKindDTMF, Timeout: defaultPromptTimeout},
				},
				Input: domain.InputKindDTMF,
				OnDigit: map[string]domain.SessionState{
					"1": stateAckAccept,
					"2": stateRejectReason,
				},
				OnTimeout: domain.StateMissed,
				OnHangup:  domain.StateMissed,
			},
		},
	}
}

// vendorReminderMachine: mark-ready or extend by ten minutes.
func vendorReminderMachine() *Machine {
	return &Machine{
		Purpose: domain.PurposeVendorReminder,
		Entry:   domain.StateGreeting,
		Nodes: map[domain.SessionState]Node{
			domain.StateGreeting: {
				Entry: []Action{
					{Kind: ActionPlay, PhraseID: "vendor_reminder.greeting"},
					{Kind: ActionPrompt, PhraseID: "vendor_reminder.ready_extend", Input: domain.InputKindDTMF, Timeout: defaultPromptTimeout},
				},
				Input: domain.InputKindDTMF,
				OnDigit: map[string]domain.SessionState{
					"1": stateMarkReady,
					"2": stateExtend,
				},
				OnTimeout:     domain.StateMissed,
				OnHangup:      domain.StateMissed,
				RepromptLimit: 1,
			},
			stateMarkReady: {
				Entry: []Action{
					{Kind: ActionReport, Outcome: domain.OutcomeAccepted,
						Details:    map[string]interface{}{"ready": true},
						Transition: domain.OrderStateHandover},
					{Kind: ActionPlay, PhraseID: "vendor_reminder.close_ready"},
					{Kind: ActionHangup},
				},
				Terminal: true,
			},
			stateExtend: {
				Entry: []Action{
					{Kind: ActionReport, Outcome: domain.OutcomeAccepted,
						Details: map[string]interface{}{"extendMinutes": 10}},
					{Kind: ActionPlay, PhraseID: "vendor_reminder.close_extended"},
					{Kind: ActionHangup},
				},
				Terminal: true,
			},
			domain.StateMissed: {
				Entry: []Action{
					{Kind: ActionReport, Outcome: domain.OutcomeNoAction},
					{Kind: ActionHangup},
				},
				Terminal: true,
			},
		},
	}
}

// riderAssignMachine: accept/reject only.
func riderAssignMachine() *Machine {
	return &Machine{
		Purpose: domain.PurposeRiderAssign,
		Entry:   domain.StateGreeting,
		Nodes: map[domain.SessionState]Node{
			domain.StateGreeting: {
				Entry: []Action{
					{Kind: ActionPlay, PhraseID: "rider_assign.greeting"},
					{Kind: ActionPrompt, PhraseID: "rider_assign.accept_reject", Input: domain.InputKindDTMF, Timeout: defaultPromptTimeout},
				},
				Input: domain.InputKindDTMF,
				OnDigit: map[string]domain.SessionState{
					"1": stateAccepted,
					"2": stateRejected,
				},
				DigitInvalid:  domain.StateInvalid,
				OnTimeout:     domain.StateMissed,
				OnHangup:      domain.StateMissed,
				RepromptLimit: 1,
			},
			stateAccepted: {
				Entry: []Action{
					{Kind: ActionReport, Outcome: domain.OutcomeAccepted,
						Details: map[string]interface{}{"accepted": true}},
					{Kind: ActionPlay, PhraseID: "rider_assign.close_accepted"},
					{Kind: ActionHangup},
				},
				Terminal: true,
			},
			stateRejected: {
				Entry: []Action{
					{Kind: ActionReport, Outcome: domain.OutcomeRejected,
						Details: map[string]interface{}{"accepted": false}},
					{Kind: ActionPlay, PhraseID: "rider_assign.close_rejected"},
					{Kind: ActionHangup},
				},
				Terminal: true,
			},
			domain.StateMissed: {
				Entry: []Action{
					{Kind: ActionReport, Outcome: domain.OutcomeMissed},
					{Kind: ActionHangup},
				},
				Terminal: true,
			},
			domain.StateInvalid: {
				Entry: []Action{
					{Kind: ActionPlay, PhraseID: "common.invalid_try_again"},
					{Kind: ActionPrompt, PhraseID: "rider_assign.accept_reject", Input: domain.InputKindDTMF, Timeout: defaultPromptTimeout},
				},
				Input: domain.InputKindDTMF,
				OnDigit: map[string]domain.SessionState{
					"1": stateAccepted,
					"2": stateRejected,
				},
				OnTimeout: domain.StateMissed,
				OnHangup:  domain.StateMissed,
			},
		},
	}
}

// riderAddressUpdateMachine: confirm the new address or escalate to a human.
func riderAddressUpdateMachine() *Machine {
	return &Machine{
		Purpose:  domain.PurposeRiderAddressUpdate,
		Entry:    domain.StateGreeting,
		Recorded: true,
		Nodes: map[domain.SessionState]Node{
			domain.StateGreeting: {
				Entry: []Action{
					{Kind: ActionPlay, PhraseID: "rider_address_update.greeting"},
					{Kind: ActionPrompt, PhraseID: "rider_address_update.confirm_escalate", Input: domain.InputKindDTMF, Timeout: defaultPromptTimeout},
				},
				Input: domain.InputKindDTMF,
				OnDigit: map[string]domain.SessionState{
					"1": stateConfirmed,
					"2": stateEscalate,
				},
				OnTimeout:     domain.StateMissed,
				OnHangup:      domain.StateMissed,
				RepromptLimit: 1,
			},
			stateConfirmed: {
				Entry: []Action{
					{Kind: ActionReport, Outcome: domain.OutcomeAccepted,
						Details: map[string]interface{}{"addressConfirmed": true}},
					{Kind: ActionPlay, PhraseID: "rider_address_update.close_confirmed"},
					{Kind: ActionHangup},
				},
				Terminal: true,
			},
			stateEscalate: {
				Entry: []Action{
					{Kind: ActionReport, Outcome: domain.OutcomeNoAction,
						Details: map[string]interface{}{"escalate": true}},
					{Kind: ActionPlay, PhraseID: "rider_address_update.close_escalated"},
					{Kind: ActionTransfer},
				},
				Terminal: true,
			},
			domain.StateMissed: {
				Entry: []Action{
					{Kind: ActionReport, Outcome: domain.OutcomeMissed},
					{Kind: ActionHangup},
				},
				Terminal: true,
			},
		},
	}
}

// inboundCustomerMachine: greeting, then free-form conversation through the
// speech pipeline until the caller hangs up or the turn cap closes the call.
func inboundCustomerMachine() *Machine {
	return &Machine{
		Purpose: domain.PurposeInboundCustomer,
		Entry:   domain.StateGreeting,
		Nodes: map[domain.SessionState]Node{
			domain.StateGreeting: {
				Entry: []Action{
					{Kind: ActionPlay, PhraseID: "inbound_customer.greeting"},
					{Kind: ActionPrompt, PhraseID: "inbound_customer.how_can_i_help", Input: domain.InputKindOpenEnded, Timeout: 15 * time.Second},
				},
				Input:     domain.InputKindOpenEnded,
				OpenEnded: true,
				OnTimeout: domain.StateClosing,
				OnHangup:  domain.StateClosing,
				OnDigit: map[string]domain.SessionState{
					"0": domain.StateClosing,
				},
			},
			stateConversation: {
				Entry: []Action{
					{Kind: ActionConsult},
				},
				Input:     domain.InputKindOpenEnded,
				OpenEnded: true,
				OnTimeout: domain.StateClosing,
				OnHangup:  domain.StateClosing,
				OnDigit: map[string]domain.SessionState{
					"0": domain.StateClosing,
				},
			},
			domain.StateClosing: {
				Entry: []Action{
					{Kind: ActionReport, Outcome: domain.OutcomeNoAction,
						Details: map[string]interface{}{"freeform": true}},
					{Kind: ActionPlay, PhraseID: "common.goodbye"},
					{Kind: ActionHangup},
				},
				Terminal: true,
			},
		},
	}
}
