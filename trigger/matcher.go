package trigger

import (
	"github.com/google/uuid"
	"github.com/journeyhq/journey/bus"
	"github.com/journeyhq/journey/completion"
	"github.com/journeyhq/journey/definition"
	"github.com/journeyhq/journey/engine"
	"github.com/journeyhq/journey/logger"
	"github.com/journeyhq/journey/model"
	"github.com/journeyhq/journey/persistence"
	"github.com/journeyhq/journey/predicate"
	"go.uber.org/zap"
)

// Matcher turns published notifications into flow instances. Event and
// property matching runs on the contact's shard; segment fan-out (Now and At
// triggers) opens the completion group up front and hands each contact to
// its own shard.
//
// Instance ids are assigned before the group is sealed so a synchronously
// finishing instance can never race its own membership.
type Matcher struct {
	defs       definition.Service
	eng        *engine.Engine
	contacts   persistence.PropertyStore
	segments   persistence.SegmentResolver
	aggregator *completion.Aggregator
	dispatcher *bus.Dispatcher
}

func NewMatcher(defs definition.Service, eng *engine.Engine, contacts persistence.PropertyStore,
	segments persistence.SegmentResolver, aggregator *completion.Aggregator, dispatcher *bus.Dispatcher) *Matcher {
	return &Matcher{
		defs:       defs,
		eng:        eng,
		contacts:   contacts,
		segments:   segments,
		aggregator: aggregator,
		dispatcher: dispatcher,
	}
}

// HandleEvent matches event triggers and seals the event's completion group
// with the spawned instances.
func (m *Matcher) HandleEvent(event *model.Event) {
	scope := m.scope(event.ContactId)
	evt := make(map[string]any, len(event.Payload)+1)
	for k, v := range event.Payload {
		evt[k] = v
	}
	evt["type"] = event.Type
	scope["event"] = evt

	m.matchAndSpawn(event.ContactId, event.CauseId, func(def *model.FlowDefinition) bool {
		if def.Trigger.Kind != model.TRIGGER_EVENT || def.Trigger.EventType != event.Type {
			return false
		}
		return m.predicateHolds(def, scope)
	})
}

// HandlePropertyChange matches property triggers against the change.
func (m *Matcher) HandlePropertyChange(change *model.PropertyChange) {
	scope := m.scope(change.ContactId)
	scope["change"] = map[string]any{
		"key": change.Key,
		"old": change.Old,
		"new": change.New,
	}

	m.matchAndSpawn(change.ContactId, change.CauseId, func(def *model.FlowDefinition) bool {
		if def.Trigger.Kind != model.TRIGGER_PROPERTY || def.Trigger.PropertyKey != change.Key {
			return false
		}
		return m.predicateHolds(def, scope)
	})
}

// HandleTriggerWake fires an At trigger the scheduler popped. Runs on the
// flow's shard, so the per-contact work is re-dispatched.
func (m *Matcher) HandleTriggerWake(wake *bus.Wake) {
	def, err := m.defs.Get(wake.FlowName)
	if err != nil {
		logger.Error("at-trigger fired for unknown flow", zap.String("flow", wake.FlowName), zap.Error(err))
		return
	}
	if def.Trigger.Kind != model.TRIGGER_AT {
		logger.Warn("dropping trigger wake for non-at flow", zap.String("flow", wake.FlowName))
		return
	}
	if _, err := m.RunSegment(def, uuid.NewString()); err != nil {
		logger.Error("error running at-trigger segment", zap.String("flow", wake.FlowName), zap.Error(err))
	}
}

// RunSegment spawns the flow for every contact in its trigger segment under
// one completion group and returns the cause id the caller can await.
func (m *Matcher) RunSegment(def *model.FlowDefinition, causeId string) (string, error) {
	contactIds, err := m.segments.Contacts(def.Trigger.SegmentId)
	if err != nil {
		return "", err
	}
	instanceIds := make([]string, len(contactIds))
	for i := range contactIds {
		instanceIds[i] = uuid.NewString()
	}
	m.aggregator.Open(causeId, instanceIds)
	logger.Info("running flow over segment", zap.String("flow", def.Name),
		zap.String("segment", def.Trigger.SegmentId), zap.Int("contacts", len(contactIds)))
	for i, contactId := range contactIds {
		contactId, instanceId := contactId, instanceIds[i]
		m.dispatcher.Submit(contactId, func() {
			m.spawn(def, contactId, causeId, instanceId)
		})
	}
	return causeId, nil
}

func (m *Matcher) matchAndSpawn(contactId string, causeId string, match func(*model.FlowDefinition) bool) {
	defs, err := m.defs.List()
	if err != nil {
		logger.Error("error listing definitions", zap.Error(err))
		m.aggregator.Seal(causeId, nil)
		return
	}
	var matched []model.FlowDefinition
	for _, def := range defs {
		if match(&def) {
			matched = append(matched, def)
		}
	}
	instanceIds := make([]string, len(matched))
	for i := range matched {
		instanceIds[i] = uuid.NewString()
	}
	m.aggregator.Seal(causeId, instanceIds)
	for i := range matched {
		m.spawn(&matched[i], contactId, causeId, instanceIds[i])
	}
}

func (m *Matcher) spawn(def *model.FlowDefinition, contactId string, causeId string, instanceId string) {
	instance, err := m.eng.Spawn(def, contactId, causeId, instanceId)
	if err != nil {
		if _, ok := err.(engine.DuplicateInstanceError); !ok {
			logger.Error("error spawning instance", zap.String("flow", def.Name),
				zap.String("contact", contactId), zap.Error(err))
		}
		return
	}
	m.eng.Run(instance, def)
}

func (m *Matcher) predicateHolds(def *model.FlowDefinition, scope map[string]any) bool {
	ok, err := predicate.Eval(def.Trigger.Predicate, scope)
	if err != nil {
		logger.Warn("trigger predicate failed", zap.String("flow", def.Name), zap.Error(err))
		return false
	}
	return ok
}

func (m *Matcher) scope(contactId string) map[string]any {
	contact, err := m.contacts.GetContact(contactId)
	if err != nil {
		logger.Error("error loading contact", zap.String("contact", contactId), zap.Error(err))
		contact = &model.Contact{Id: contactId, Properties: map[string]any{}}
	}
	props := make(map[string]any, len(contact.Properties)+1)
	for k, v := range contact.Properties {
		props[k] = v
	}
	props["id"] = contact.Id
	return map[string]any{"contact": props}
}
