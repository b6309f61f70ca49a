package event

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscriber(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	var got int32
	require.NoError(t, bus.Subscribe(CallEnded, func(ev *Event) {
		if data, ok := ev.GetCallData(); ok && data.CallID == "C-1" {
			atomic.AddInt32(&got, 1)
		}
	}))

	require.NoError(t, bus.Publish(CallEnded, &CallEventData{CallID: "C-1", Outcome: "accepted"}))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&got) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPublishWithoutSubscribersIsFine(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	assert.NoError(t, bus.Publish(EscalationStarted, &EscalationEventData{EscalationID: "e1"}))
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	var fastDone int32
	block := make(chan struct{})
	defer close(block)

	require.NoError(t, bus.SubscribeWithTimeout(CallPlaced, func(ev *Event) {
		<-block // never finishes within the deadline
	}, 50*time.Millisecond))
	require.NoError(t, bus.Subscribe(CallPlaced, func(ev *Event) {
		atomic.AddInt32(&fastDone, 1)
	}))

	start := time.Now()
	require.NoError(t, bus.Publish(CallPlaced, &CallEventData{CallID: "C-2"}))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "publish must not block on subscribers")

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fastDone) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPanicInHandlerIsRecovered(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	require.NoError(t, bus.Subscribe(CallFailed, func(ev *Event) {
		panic("boom")
	}))
	require.NoError(t, bus.Publish(CallFailed, &CallEventData{CallID: "C-3"}))
	time.Sleep(50 * time.Millisecond)

	// bus remains usable after the panic
	assert.NoError(t, bus.Publish(CallFailed, &CallEventData{CallID: "C-4"}))
}

func TestStatsCountEvents(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	require.NoError(t, bus.Subscribe(OrderCreated, func(ev *Event) {}))
	require.NoError(t, bus.Publish(OrderCreated, &OrderEventData{OrderID: "O-1"}))
	require.NoError(t, bus.Publish(OrderCreated, &OrderEventData{OrderID: "O-2"}))

	stats := bus.GetStats()
	assert.EqualValues(t, 2, stats.TotalEvents)
	assert.EqualValues(t, 2, stats.EventsByType[string(OrderCreated)])
	assert.Equal(t, 1, stats.SubscriberCount[string(OrderCreated)])
}

func TestCloseRejectsFurtherPublishes(t *testing.T) {
	bus := NewEventBus()
	require.NoError(t, bus.Close())
	assert.Error(t, bus.Publish(OrderCreated, &OrderEventData{OrderID: "O-1"}))
}

func TestEventEnvelopeCarriesCorrelation(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	done := make(chan *Event, 1)
	require.NoError(t, bus.Subscribe(EscalationStepFired, func(ev *Event) {
		done <- ev
	}))
	require.NoError(t, bus.Publish(EscalationStepFired, &EscalationEventData{
		EscalationID: "vendor.new_order:O-1", OrderID: "O-1", Channel: "ring", StepIndex: 2,
	}))

	select {
	case ev := <-done:
		assert.Equal(t, "O-1", ev.OrderID)
		data, ok := ev.GetEscalationData()
		require.True(t, ok)
		assert.Equal(t, 2, data.StepIndex)
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}
