package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClareAI/astra-comms-core/internal/domain"
)

func TestDefaultLadderFlowTable(t *testing.T) {
	ladder := DefaultLadder()

	tests := []struct {
		flow     domain.EscalationFlow
		target   domain.EscalationTarget
		channels []domain.Channel
		waits    []time.Duration
	}{
		{
			domain.FlowVendorNewOrder, domain.EscalationTargetVendor,
			[]domain.Channel{domain.ChannelPush, domain.ChannelChat, domain.ChannelRing, domain.ChannelInteractiveVoice, domain.ChannelHumanOperator},
			[]time.Duration{0, 60 * time.Second, 120 * time.Second, 180 * time.Second, 300 * time.Second},
		},
		{
			domain.FlowVendorReminder, domain.EscalationTargetVendor,
			[]domain.Channel{domain.ChannelPush, domain.ChannelRing, domain.ChannelInteractiveVoice},
			[]time.Duration{0, 60 * time.Second, 120 * time.Second},
		},
		{
			domain.FlowRiderAssign, domain.EscalationTargetRider,
			[]domain.Channel{domain.ChannelPush, domain.ChannelChat, domain.ChannelRing, domain.ChannelInteractiveVoice},
			[]time.Duration{0, 60 * time.Second, 120 * time.Second, 180 * time.Second},
		},
		{
			domain.FlowRiderAddressUpdate, domain.EscalationTargetRider,
			[]domain.Channel{domain.ChannelChat, domain.ChannelRing, domain.ChannelInteractiveVoice},
			[]time.Duration{0, 30 * time.Second, 90 * time.Second},
		},
		{
			domain.FlowCustomerStatus, domain.EscalationTargetCustomer,
			[]domain.Channel{domain.ChannelPush, domain.ChannelChat},
			[]time.Duration{0, 30 * time.Second},
		},
		{
			domain.FlowCustomerDelay, domain.EscalationTargetCustomer,
			[]domain.Channel{domain.ChannelChat},
			[]time.Duration{0},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.flow), func(t *testing.T) {
			flow, ok := ladder.Flow(tt.flow)
			require.True(t, ok)
			assert.Equal(t, tt.target, flow.Target)
			require.Len(t, flow.Steps, len(tt.channels))
			for i, st := range flow.Steps {
				assert.Equal(t, tt.channels[i], st.Channel, "step %d channel", i)
				assert.Equal(t, tt.waits[i], st.CumulativeWait(), "step %d wait", i)
			}
		})
	}
}

func TestUnknownFlow(t *testing.T) {
	_, ok := DefaultLadder().Flow("nonsense.flow")
	assert.False(t, ok)
}

func TestFlowForPurposeRoundTrip(t *testing.T) {
	ladder := DefaultLadder()

	flow, ok := ladder.FlowForPurpose(domain.PurposeVendorNewOrder)
	require.True(t, ok)
	assert.Equal(t, domain.FlowVendorNewOrder, flow)

	flow, ok = ladder.FlowForPurpose(domain.PurposeRiderAddressUpdate)
	require.True(t, ok)
	assert.Equal(t, domain.FlowRiderAddressUpdate, flow)

	// customer flows have no voice purpose
	_, ok = ladder.FlowForPurpose(domain.PurposeInboundCustomer)
	assert.False(t, ok)
}
