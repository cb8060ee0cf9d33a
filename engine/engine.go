package engine

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/journeyhq/journey/bus"
	"github.com/journeyhq/journey/completion"
	"github.com/journeyhq/journey/definition"
	"github.com/journeyhq/journey/logger"
	"github.com/journeyhq/journey/metrics"
	"github.com/journeyhq/journey/model"
	"github.com/journeyhq/journey/persistence"
	"github.com/journeyhq/journey/predicate"
	"github.com/journeyhq/journey/registry"
	"github.com/journeyhq/journey/scheduler"
	"github.com/journeyhq/journey/util"
	"go.uber.org/zap"
)

type DuplicateInstanceError struct {
	FlowName  string
	ContactId string
}

func (e DuplicateInstanceError) Error() string {
	return fmt.Sprintf("contact %s already has an active instance of flow %s", e.ContactId, e.FlowName)
}

// Engine runs flow instances: spawning, the advance loop over the step tree,
// delay suspension, wake resumption, goal completion and action retries.
// Every method below must be called from the owning contact's shard so one
// contact's instances never race each other.
type Engine struct {
	instances  persistence.InstanceDao
	defs       definition.Service
	contacts   persistence.PropertyStore
	handlers   *registry.Registry
	sched      *scheduler.Scheduler
	aggregator *completion.Aggregator
	dispatcher *bus.Dispatcher
	tz         TimezoneProvider
	clk        clock.Clock

	retryLimit          int
	retryBackoffSeconds int64
}

func New(instances persistence.InstanceDao, defs definition.Service, contacts persistence.PropertyStore,
	handlers *registry.Registry, sched *scheduler.Scheduler, aggregator *completion.Aggregator,
	dispatcher *bus.Dispatcher, tz TimezoneProvider, clk clock.Clock, retryLimit int, retryBackoffSeconds int64) *Engine {
	return &Engine{
		instances:           instances,
		defs:                defs,
		contacts:            contacts,
		handlers:            handlers,
		sched:               sched,
		aggregator:          aggregator,
		dispatcher:          dispatcher,
		tz:                  tz,
		clk:                 clk,
		retryLimit:          retryLimit,
		retryBackoffSeconds: retryBackoffSeconds,
	}
}

// Spawn creates an instance for a trigger match under the pre-assigned id.
// A contact with an active instance of the flow drops the trigger; the
// pre-assigned id is released from its completion group so the group can
// still resolve.
func (e *Engine) Spawn(def *model.FlowDefinition, contactId string, causeId string, instanceId string) (*model.FlowInstance, error) {
	active, err := e.instances.ActiveInstances(contactId)
	if err != nil {
		e.aggregator.NotifyTerminal(instanceId)
		return nil, err
	}
	if _, ok := active[def.Name]; ok {
		logger.Debug("dropping duplicate trigger", zap.String("flow", def.Name), zap.String("contact", contactId))
		metrics.DuplicateTriggersDropped.WithLabelValues(def.Name).Inc()
		e.aggregator.NotifyTerminal(instanceId)
		return nil, DuplicateInstanceError{FlowName: def.Name, ContactId: contactId}
	}
	instance := &model.FlowInstance{
		Id:        instanceId,
		FlowName:  def.Name,
		ContactId: contactId,
		CauseId:   causeId,
		Status:    model.RUNNING,
		Pointer:   model.StepPointer{{Step: 0}},
		Vars:      make(map[string]any),
		EnteredAt: e.clk.Now().UnixMilli(),
	}
	if err := e.instances.Save(instance); err != nil {
		e.aggregator.NotifyTerminal(instanceId)
		return nil, err
	}
	metrics.InstancesStarted.WithLabelValues(def.Name).Inc()
	logger.Info("instance started", zap.String("flow", def.Name), zap.String("contact", contactId), zap.String("instance", instanceId))
	return instance, nil
}

// Run drives the instance until it suspends or reaches a terminal status.
func (e *Engine) Run(instance *model.FlowInstance, def *model.FlowDefinition) {
	for instance.Status == model.RUNNING {
		step := stepAt(def.Steps, instance.Pointer)
		if step == nil {
			e.finish(instance, model.COMPLETED)
			return
		}
		switch step.Kind {
		case model.STEP_DECISION:
			e.decide(instance, def, step)
		case model.STEP_DELAY:
			if e.suspend(instance, def, step) {
				return
			}
		case model.STEP_ACTION:
			if e.execute(instance, def, step) {
				return
			}
		default:
			e.fail(instance, fmt.Errorf("unknown step kind %s", step.Kind))
		}
	}
}

func (e *Engine) decide(instance *model.FlowInstance, def *model.FlowDefinition, step *model.Step) {
	scope := e.baseScope(instance)
	for i := range step.Branches {
		ok, err := predicate.Eval(&step.Branches[i].When, scope)
		if err != nil {
			e.fail(instance, fmt.Errorf("branch %d condition: %w", i, err))
			return
		}
		if ok {
			instance.Pointer = descend(def.Steps, instance.Pointer, i)
			e.save(instance)
			return
		}
	}
	instance.Pointer = descend(def.Steps, instance.Pointer, -1)
	e.save(instance)
}

// suspend parks the instance on a delay step. Reports true when the advance
// loop must stop, which is every outcome including a resolution failure.
func (e *Engine) suspend(instance *model.FlowInstance, def *model.FlowDefinition, step *model.Step) bool {
	now := e.clk.Now().UnixMilli()
	spec := step.Delay
	if spec.Kind == model.DELAY_EVENT {
		instance.Status = model.WAITING_EVENT
		if spec.TimeoutSeconds > 0 {
			instance.WakeAt = now + spec.TimeoutSeconds*1000
		}
		e.save(instance)
		if instance.WakeAt > 0 {
			e.schedule(instance)
		}
		return true
	}

	loc := e.tz.Reference()
	if def.LocalTime {
		loc = e.tz.Location(instance.ContactId)
	}
	wakeAt, err := scheduler.ResolveDelay(spec, now, loc)
	if err != nil {
		e.fail(instance, fmt.Errorf("resolving delay: %w", err))
		return true
	}
	instance.Status = model.WAITING_DELAY
	instance.WakeAt = wakeAt
	e.save(instance)
	e.schedule(instance)
	return true
}

func (e *Engine) execute(instance *model.FlowInstance, def *model.FlowDefinition, step *model.Step) bool {
	handler, err := e.handlers.Get(step.Handler)
	if err != nil {
		e.fail(instance, err)
		return true
	}
	contact := e.snapshot(instance.ContactId)
	scope := e.baseScope(instance)
	result := handler.Execute(registry.Context{
		InstanceId: instance.Id,
		FlowName:   instance.FlowName,
		ContactId:  instance.ContactId,
		CauseId:    instance.CauseId,
		Contact:    contact,
		Params:     util.ResolveParams(scope, step.Params),
	})

	switch result.Kind {
	case registry.SUCCESS:
		instance.RetryCount = 0
		for k, v := range result.Vars {
			instance.Vars[k] = v
		}
		instance.Pointer = advance(def.Steps, instance.Pointer)
		if result.AwaitCause != "" {
			instance.Status = model.WAITING_EVENT
			instance.AwaitCause = result.AwaitCause
			e.save(instance)
			e.armContinuation(instance.Id, instance.ContactId, result.AwaitCause)
			return true
		}
		e.save(instance)
		return false
	case registry.RETRYABLE:
		instance.RetryCount++
		if instance.RetryCount > e.retryLimit {
			e.fail(instance, fmt.Errorf("handler %s exhausted %d retries: %w", step.Handler, e.retryLimit, result.Err))
			return true
		}
		backoff := e.retryBackoffSeconds << (instance.RetryCount - 1)
		instance.WakeAt = e.clk.Now().UnixMilli() + backoff*1000
		e.save(instance)
		e.schedule(instance)
		metrics.ActionRetries.WithLabelValues(step.Handler).Inc()
		logger.Warn("action failed, retry scheduled", zap.String("handler", step.Handler),
			zap.String("instance", instance.Id), zap.Int("attempt", instance.RetryCount), zap.Error(result.Err))
		return true
	default:
		e.fail(instance, result.Err)
		return true
	}
}

// HandleWake resumes an instance the scheduler popped. A wake whose target
// no longer matches the instance record is stale (the delay was canceled or
// replaced after the pop) and is dropped.
func (e *Engine) HandleWake(wake *bus.Wake) {
	instance, err := e.instances.Get(wake.InstanceId)
	if err != nil {
		logger.Error("error loading instance for wake", zap.String("instance", wake.InstanceId), zap.Error(err))
		return
	}
	if instance.Status.Terminal() {
		return
	}
	if instance.WakeAt == 0 || wake.At != instance.WakeAt {
		logger.Debug("dropping stale wake", zap.String("instance", instance.Id), zap.Int64("at", wake.At))
		return
	}
	def, err := e.defs.Get(instance.FlowName)
	if err != nil {
		e.fail(instance, fmt.Errorf("loading definition %s: %w", instance.FlowName, err))
		return
	}

	instance.WakeAt = 0
	switch instance.Status {
	case model.WAITING_DELAY, model.WAITING_EVENT:
		// delay elapsed, or an until-event wait timed out
		instance.Status = model.RUNNING
		instance.Pointer = advance(def.Steps, instance.Pointer)
		e.save(instance)
		e.Run(instance, def)
	case model.RUNNING:
		// retry attempt: pointer still addresses the failed action
		e.save(instance)
		e.Run(instance, def)
	}
}

// HandleEvent checks goals first, then until-event waits. Goal completion
// wins over resumption so an instance whose goal fires while parked never
// takes another step.
func (e *Engine) HandleEvent(event *model.Event) {
	e.eachActive(event.ContactId, func(instance *model.FlowInstance, def *model.FlowDefinition) {
		scope := e.eventScope(instance, event)
		if e.goalReached(instance, def, scope) {
			e.completeByGoal(instance)
			return
		}
		if instance.Status != model.WAITING_EVENT || instance.AwaitCause != "" {
			return
		}
		step := stepAt(def.Steps, instance.Pointer)
		if step == nil || step.Kind != model.STEP_DELAY || step.Delay.Event == nil {
			return
		}
		ok, err := predicate.Eval(step.Delay.Event, scope)
		if err != nil {
			logger.Warn("until-event predicate failed", zap.String("instance", instance.Id), zap.Error(err))
			return
		}
		if !ok {
			return
		}
		if instance.WakeAt > 0 {
			e.cancelWake(instance)
			instance.WakeAt = 0
		}
		instance.Status = model.RUNNING
		instance.Pointer = advance(def.Steps, instance.Pointer)
		e.save(instance)
		e.Run(instance, def)
	})
}

// HandlePropertyChange evaluates goals against the new property state.
func (e *Engine) HandlePropertyChange(change *model.PropertyChange) {
	e.eachActive(change.ContactId, func(instance *model.FlowInstance, def *model.FlowDefinition) {
		if e.goalReached(instance, def, e.changeScope(instance, change)) {
			e.completeByGoal(instance)
		}
	})
}

// Recover rebuilds in-memory runtime state from storage after restart:
// unresolved completion groups, await continuations, and the wake queue.
func (e *Engine) Recover() error {
	if err := e.aggregator.Restore(); err != nil {
		return err
	}
	suspended, err := e.instances.ListSuspended()
	if err != nil {
		return err
	}
	for _, instance := range suspended {
		if instance.AwaitCause != "" {
			e.armContinuation(instance.Id, instance.ContactId, instance.AwaitCause)
		}
	}
	return e.sched.Rebuild()
}

func (e *Engine) eachActive(contactId string, fn func(*model.FlowInstance, *model.FlowDefinition)) {
	active, err := e.instances.ActiveInstances(contactId)
	if err != nil {
		logger.Error("error listing active instances", zap.String("contact", contactId), zap.Error(err))
		return
	}
	for flowName, instanceId := range active {
		instance, err := e.instances.Get(instanceId)
		if err != nil {
			logger.Error("error loading instance", zap.String("instance", instanceId), zap.Error(err))
			continue
		}
		if instance.Status.Terminal() {
			continue
		}
		def, err := e.defs.Get(flowName)
		if err != nil {
			logger.Error("error loading definition", zap.String("flow", flowName), zap.Error(err))
			continue
		}
		fn(instance, def)
	}
}

func (e *Engine) goalReached(instance *model.FlowInstance, def *model.FlowDefinition, scope map[string]any) bool {
	if def.Goal == nil {
		return false
	}
	ok, err := predicate.Eval(def.Goal, scope)
	if err != nil {
		logger.Warn("goal predicate failed", zap.String("flow", def.Name), zap.String("instance", instance.Id), zap.Error(err))
		return false
	}
	return ok
}

func (e *Engine) completeByGoal(instance *model.FlowInstance) {
	if instance.WakeAt > 0 {
		e.cancelWake(instance)
	}
	e.finish(instance, model.COMPLETED_BY_GOAL)
}

func (e *Engine) armContinuation(instanceId string, contactId string, causeId string) {
	e.aggregator.OnResolve(causeId, func() {
		e.dispatcher.Submit(contactId, func() {
			e.resumeAwait(instanceId, causeId)
		})
	})
}

func (e *Engine) resumeAwait(instanceId string, causeId string) {
	instance, err := e.instances.Get(instanceId)
	if err != nil {
		logger.Error("error loading instance for continuation", zap.String("instance", instanceId), zap.Error(err))
		return
	}
	if instance.Status.Terminal() || instance.AwaitCause != causeId {
		return
	}
	def, err := e.defs.Get(instance.FlowName)
	if err != nil {
		e.fail(instance, fmt.Errorf("loading definition %s: %w", instance.FlowName, err))
		return
	}
	instance.AwaitCause = ""
	instance.Status = model.RUNNING
	e.save(instance)
	e.Run(instance, def)
}

func (e *Engine) finish(instance *model.FlowInstance, status model.InstanceStatus) {
	instance.Status = status
	instance.WakeAt = 0
	instance.AwaitCause = ""
	e.save(instance)
	metrics.InstancesCompleted.WithLabelValues(instance.FlowName, status.String()).Inc()
	logger.Info("instance finished", zap.String("flow", instance.FlowName),
		zap.String("instance", instance.Id), zap.String("status", status.String()))
	e.aggregator.NotifyTerminal(instance.Id)
}

func (e *Engine) fail(instance *model.FlowInstance, reason error) {
	instance.Status = model.FAILED
	if reason != nil {
		instance.FailureReason = reason.Error()
	}
	instance.WakeAt = 0
	instance.AwaitCause = ""
	e.save(instance)
	e.cancelWake(instance)
	metrics.InstancesCompleted.WithLabelValues(instance.FlowName, model.FAILED.String()).Inc()
	logger.Error("instance failed", zap.String("flow", instance.FlowName),
		zap.String("instance", instance.Id), zap.Error(reason))
	e.aggregator.NotifyTerminal(instance.Id)
}

func (e *Engine) save(instance *model.FlowInstance) {
	if err := e.instances.Save(instance); err != nil {
		logger.Error("error saving instance", zap.String("instance", instance.Id), zap.Error(err))
	}
}

func (e *Engine) schedule(instance *model.FlowInstance) {
	// the wake-at is already on the instance record, so a failed push is
	// recovered by the rebuild pass
	if err := e.sched.Schedule(instance.Id, instance.WakeAt); err != nil {
		logger.Error("error scheduling wake", zap.String("instance", instance.Id), zap.Error(err))
	}
}

func (e *Engine) cancelWake(instance *model.FlowInstance) {
	if err := e.sched.Cancel(instance.Id); err != nil {
		logger.Error("error canceling wake", zap.String("instance", instance.Id), zap.Error(err))
	}
}

func (e *Engine) snapshot(contactId string) *model.Contact {
	contact, err := e.contacts.GetContact(contactId)
	if err != nil {
		logger.Error("error loading contact", zap.String("contact", contactId), zap.Error(err))
		return &model.Contact{Id: contactId, Properties: map[string]any{}}
	}
	return contact
}

func (e *Engine) baseScope(instance *model.FlowInstance) map[string]any {
	contact := e.snapshot(instance.ContactId)
	props := make(map[string]any, len(contact.Properties)+1)
	for k, v := range contact.Properties {
		props[k] = v
	}
	props["id"] = contact.Id
	return map[string]any{
		"contact": props,
		"vars":    instance.Vars,
	}
}

func (e *Engine) eventScope(instance *model.FlowInstance, event *model.Event) map[string]any {
	scope := e.baseScope(instance)
	evt := make(map[string]any, len(event.Payload)+1)
	for k, v := range event.Payload {
		evt[k] = v
	}
	evt["type"] = event.Type
	scope["event"] = evt
	return scope
}

func (e *Engine) changeScope(instance *model.FlowInstance, change *model.PropertyChange) map[string]any {
	scope := e.baseScope(instance)
	scope["change"] = map[string]any{
		"key": change.Key,
		"old": change.Old,
		"new": change.New,
	}
	return scope
}
