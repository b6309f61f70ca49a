package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-comms-core/internal/backend"
	"github.com/ClareAI/astra-comms-core/internal/core/event"
	"github.com/ClareAI/astra-comms-core/internal/domain"
	"github.com/ClareAI/astra-comms-core/internal/eventqueue"
	"github.com/ClareAI/astra-comms-core/internal/orchestrator"
	"github.com/ClareAI/astra-comms-core/internal/repository"
	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"github.com/ClareAI/astra-comms-core/pkg/twilio"
	"go.uber.org/zap"
)

// EscalationID derives the deterministic id for a (flow, order) pair, so
// concurrent starts converge on one ladder.
func EscalationID(flow domain.EscalationFlow, orderID string) string {
	return fmt.Sprintf("%s:%s", flow, orderID)
}

type running struct {
	esc    *domain.Escalation
	cancel context.CancelFunc
	acked  bool
}

// Engine schedules and cancels escalation ladders. One goroutine per
// active escalation walks the step list against the monotonic clock; Stop
// cancels its context, and a timer firing concurrently with Stop observes
// the status change and no-ops.
type Engine struct {
	ladder       *Ladder
	backend      *backend.Client
	orch         *orchestrator.Service
	placer       orchestrator.CallPlacer
	bus          event.EventBus
	queue        eventqueue.DurableQueue
	repos        repository.RepositoryManager
	callerIDs    map[string]string
	supportPhone string
	log          *zap.Logger

	mu     sync.Mutex
	active map[string]*running
}

func NewEngine(
	ladder *Ladder,
	backendClient *backend.Client,
	orch *orchestrator.Service,
	placer orchestrator.CallPlacer,
	bus event.EventBus,
	queue eventqueue.DurableQueue,
	repos repository.RepositoryManager,
	callerIDs map[string]string,
) *Engine {
	e := &Engine{
		ladder:    ladder,
		backend:   backendClient,
		orch:      orch,
		placer:    placer,
		bus:       bus,
		queue:     queue,
		repos:     repos,
		callerIDs: callerIDs,
		log:       logger.Named("escalation"),
		active:    make(map[string]*running),
	}
	if orch != nil {
		orch.SetAckNotifier(e.AckFromCall)
	}
	return e
}

// SetSupportPhone configures the human peer voice transfers dial out to.
func (e *Engine) SetSupportPhone(phone string) {
	e.supportPhone = phone
}

// Start begins (or returns) the ladder for a flow and order. Idempotent: a
// second start while the first is active returns the existing escalation
// unchanged. Step 0 executes immediately; later steps fire at their
// cumulative wait from start.
func (e *Engine) Start(flow domain.EscalationFlow, orderID string, data domain.JSONB) (*domain.Escalation, error) {
	flowCfg, ok := e.ladder.Flow(flow)
	if !ok {
		return nil, fmt.Errorf("escalation: unknown flow %s", flow)
	}

	id := EscalationID(flow, orderID)

	e.mu.Lock()
	if existing, ok := e.active[id]; ok && existing.esc.Status == domain.EscalationStatusActive {
		e.mu.Unlock()
		e.log.Info("escalation already active, returning existing",
			zap.String("escalation_id", id))
		return existing.esc, nil
	}

	steps := make([]domain.Step, len(flowCfg.Steps))
	copy(steps, flowCfg.Steps)
	for i := range steps {
		steps[i].Recorded = flowCfg.Recorded
	}

	esc := &domain.Escalation{
		ID:        id,
		Target:    flowCfg.Target,
		Flow:      flow,
		OrderID:   orderID,
		Steps:     steps,
		StartedAt: time.Now(),
		Status:    domain.EscalationStatusActive,
		Data:      data,
	}
	ctx, cancel := context.WithCancel(context.Background())
	run := &running{esc: esc, cancel: cancel}
	e.active[id] = run
	e.mu.Unlock()

	e.audit(esc, "started", -1, "", "")
	e.bus.Publish(event.EscalationStarted, &event.EscalationEventData{
		EscalationID: id, OrderID: orderID,
	})

	go e.runLadder(ctx, run, flowCfg)
	return esc, nil
}

// Stop cancels every pending step. Idempotent; stopping an unknown or
// finished escalation is a no-op that reports found=false.
func (e *Engine) Stop(escalationID, reason string) bool {
	e.mu.Lock()
	run, ok := e.active[escalationID]
	if !ok || run.esc.Status != domain.EscalationStatusActive {
		e.mu.Unlock()
		return false
	}
	run.esc.Status = domain.EscalationStatusStopped
	run.acked = true
	run.cancel()
	e.mu.Unlock()

	e.audit(run.esc, "stopped", run.esc.Index, "", reason)
	e.bus.Publish(event.EscalationStopped, &event.EscalationEventData{
		EscalationID: escalationID, OrderID: run.esc.OrderID,
	})
	e.log.Info("escalation stopped",
		zap.String("escalation_id", escalationID), zap.String("reason", reason))
	return true
}

// StopForFlow cancels the ladder for a (flow, order) pair if one is active.
func (e *Engine) StopForFlow(flow domain.EscalationFlow, orderID, reason string) bool {
	return e.Stop(EscalationID(flow, orderID), reason)
}

// AckFromCall is the orchestrator's terminal-outcome hook: a decisive call
// outcome cancels the ladder that placed the call. Missed and no-action
// outcomes let the ladder keep climbing.
func (e *Engine) AckFromCall(orderID string, purpose domain.Purpose, outcome domain.CallOutcome) {
	if outcome != domain.OutcomeAccepted && outcome != domain.OutcomeRejected {
		return
	}
	flow, ok := e.ladder.FlowForPurpose(purpose)
	if !ok {
		return
	}
	e.StopForFlow(flow, orderID, "call_outcome:"+string(outcome))
}

// Get returns the escalation for an id, if it is still tracked.
func (e *Engine) Get(escalationID string) (*domain.Escalation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.active[escalationID]
	if !ok {
		return nil, false
	}
	cp := *run.esc
	return &cp, true
}

// runLadder walks the steps in order. Waits are computed against the
// monotonic StartedAt reading, so wall-clock jumps never accelerate steps;
// steps whose due time is already past fire immediately, in order.
func (e *Engine) runLadder(ctx context.Context, run *running, flowCfg Flow) {
	esc := run.esc
	defer e.finish(run)

	for i, st := range esc.Steps {
		wait := time.Until(esc.StartedAt.Add(st.CumulativeWait()))
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return
		}

		e.mu.Lock()
		stillActive := esc.Status == domain.EscalationStatusActive
		esc.Index = i
		e.mu.Unlock()
		if !stillActive {
			return
		}

		e.dispatch(ctx, esc, i, st, flowCfg)
	}
}

// finish marks a ladder that ran out of steps as completed and emits the
// exhausted alert when nobody acknowledged. Stopped ladders keep their
// stopped status.
func (e *Engine) finish(run *running) {
	esc := run.esc

	e.mu.Lock()
	wasActive := esc.Status == domain.EscalationStatusActive
	if wasActive {
		esc.Status = domain.EscalationStatusCompleted
	}
	acked := run.acked
	// a replacement ladder may already own this id; only remove our own entry
	if cur, ok := e.active[esc.ID]; ok && cur == run {
		delete(e.active, esc.ID)
	}
	e.mu.Unlock()

	if !wasActive {
		return
	}
	e.audit(esc, "completed", len(esc.Steps)-1, "", "")
	e.bus.Publish(event.EscalationCompleted, &event.EscalationEventData{
		EscalationID: esc.ID, OrderID: esc.OrderID,
	})
	if !acked {
		e.publishOutbound(esc.OrderID, map[string]interface{}{
			"type":         "escalation.exhausted",
			"escalationId": esc.ID,
			"orderId":      esc.OrderID,
			"flow":         esc.Flow,
			"severity":     "medium",
		})
	}
}

func (e *Engine) dispatch(ctx context.Context, esc *domain.Escalation, index int, st domain.Step, flowCfg Flow) {
	e.log.Info("escalation step firing",
		zap.String("escalation_id", esc.ID),
		zap.Int("step", index),
		zap.String("channel", string(st.Channel)))

	switch st.Channel {
	case domain.ChannelPush, domain.ChannelChat:
		e.backend.NotifyEvent(string(st.Channel), map[string]interface{}{
			"orderId": esc.OrderID,
			"target":  esc.Target,
			"flow":    esc.Flow,
			"data":    esc.Data,
		})
		e.bus.Publish(event.CommsNotificationSent, &event.EscalationEventData{
			EscalationID: esc.ID, OrderID: esc.OrderID,
			Channel: string(st.Channel), StepIndex: index,
		})

	case domain.ChannelRing:
		phone, language := e.resolveContact(ctx, esc)
		if phone == "" {
			e.log.Warn("ring step skipped: no phone for target",
				zap.String("escalation_id", esc.ID))
			break
		}
		if _, err := e.placer.PlaceCall(twilio.PlaceCallRequest{
			To:       phone,
			CallerID: e.callerID(flowCfg.Purpose),
			Purpose:  string(flowCfg.Purpose),
			OrderID:  esc.OrderID,
			Language: language,
			RingOnly: true,
		}); err != nil {
			e.log.Warn("ring placement failed",
				zap.String("escalation_id", esc.ID), zap.Error(err))
		}

	case domain.ChannelInteractiveVoice:
		phone, language := e.resolveContact(ctx, esc)
		if phone == "" {
			e.log.Warn("voice step skipped: no phone for target",
				zap.String("escalation_id", esc.ID))
			break
		}
		metadata := domain.JSONB{}
		for k, v := range esc.Data {
			metadata[k] = v
		}
		if e.supportPhone != "" {
			metadata["supportPhone"] = e.supportPhone
		}
		if _, err := e.orch.StartOutboundCall(ctx, orchestrator.StartCallRequest{
			Purpose:  flowCfg.Purpose,
			OrderID:  esc.OrderID,
			To:       phone,
			CallerID: e.callerID(flowCfg.Purpose),
			Language: language,
			Recorded: st.Recorded,
			Metadata: metadata,
		}); err != nil {
			e.log.Error("interactive voice step failed",
				zap.String("escalation_id", esc.ID), zap.Error(err))
		}

	case domain.ChannelHumanOperator:
		e.publishOutbound(esc.OrderID, map[string]interface{}{
			"type":         "escalation.human_operator",
			"escalationId": esc.ID,
			"orderId":      esc.OrderID,
			"flow":         esc.Flow,
			"severity":     "high",
		})
	}

	e.audit(esc, "step_fired", index, string(st.Channel), "")
	e.bus.Publish(event.EscalationStepFired, &event.EscalationEventData{
		EscalationID: esc.ID, OrderID: esc.OrderID,
		Channel: string(st.Channel), StepIndex: index,
	})
}

// resolveContact finds the target's phone and language: escalation data
// first, then the cached order view.
func (e *Engine) resolveContact(ctx context.Context, esc *domain.Escalation) (phone, language string) {
	if esc.Data != nil {
		if v, ok := esc.Data["phone"].(string); ok {
			phone = backend.NormalizePhone(v)
		}
		if v, ok := esc.Data["language"].(string); ok {
			language = v
		}
	}
	if phone != "" {
		return phone, language
	}

	order, err := e.backend.GetOrder(ctx, esc.OrderID)
	if err != nil {
		e.log.Warn("contact resolution failed",
			zap.String("order_id", esc.OrderID), zap.Error(err))
		return "", language
	}

	var party *domain.Party
	switch esc.Target {
	case domain.EscalationTargetVendor:
		party = &order.Vendor
	case domain.EscalationTargetRider:
		party = order.Rider
	case domain.EscalationTargetCustomer:
		party = &order.Customer
	}
	if party == nil {
		return "", language
	}
	if language == "" {
		language = party.PreferredLanguage
	}
	return backend.NormalizePhone(party.Phone), language
}

func (e *Engine) callerID(purpose domain.Purpose) string {
	return e.callerIDs[string(purpose)]
}

func (e *Engine) audit(esc *domain.Escalation, eventName string, stepIndex int, channel, reason string) {
	if e.repos == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.repos.EscalationAudit().Record(ctx, &domain.EscalationAudit{
		EscalationID: esc.ID,
		OrderID:      esc.OrderID,
		Target:       string(esc.Target),
		Flow:         string(esc.Flow),
		Event:        eventName,
		StepIndex:    stepIndex,
		Channel:      channel,
		Reason:       reason,
		Data:         esc.Data,
	}); err != nil {
		e.log.Warn("escalation audit write failed",
			zap.String("escalation_id", esc.ID), zap.Error(err))
	}
}

func (e *Engine) publishOutbound(orderingKey string, payload map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	data, _ := json.Marshal(payload)
	if err := e.queue.Publish(ctx, orderingKey, data); err != nil {
		e.log.Error("outbound queue publish failed",
			zap.String("ordering_key", orderingKey), zap.Error(err))
	}
}
