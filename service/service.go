package service

import (
	"context"
	"reflect"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/journeyhq/journey/bus"
	"github.com/journeyhq/journey/completion"
	"github.com/journeyhq/journey/definition"
	"github.com/journeyhq/journey/logger"
	"github.com/journeyhq/journey/model"
	"github.com/journeyhq/journey/persistence"
	"github.com/journeyhq/journey/scheduler"
	"github.com/journeyhq/journey/trigger"
	"go.uber.org/zap"
)

// ExecutionService is the outward face of the engine: everything REST (or an
// embedding program) can do goes through here. Writes that must stay ordered
// with flow execution are pushed onto the contact's shard and the caller
// blocks on the outcome.
type ExecutionService struct {
	defs       definition.Service
	matcher    *trigger.Matcher
	instances  persistence.InstanceDao
	contacts   persistence.PropertyStore
	events     persistence.EventLog
	aggregator *completion.Aggregator
	sched      *scheduler.Scheduler
	eventBus   *bus.Bus
	dispatcher *bus.Dispatcher
	clk        clock.Clock
}

func NewExecutionService(defs definition.Service, matcher *trigger.Matcher, instances persistence.InstanceDao,
	contacts persistence.PropertyStore, events persistence.EventLog, aggregator *completion.Aggregator,
	sched *scheduler.Scheduler, eventBus *bus.Bus, dispatcher *bus.Dispatcher, clk clock.Clock) *ExecutionService {
	return &ExecutionService{
		defs:       defs,
		matcher:    matcher,
		instances:  instances,
		contacts:   contacts,
		events:     events,
		aggregator: aggregator,
		sched:      sched,
		eventBus:   eventBus,
		dispatcher: dispatcher,
		clk:        clk,
	}
}

// DefineFlow validates and stores a definition. At triggers are armed on the
// wake queue; Now triggers fire over their segment immediately, and the
// returned cause id identifies that firing (empty otherwise).
func (s *ExecutionService) DefineFlow(def model.FlowDefinition) (string, error) {
	if err := s.defs.Save(def); err != nil {
		return "", err
	}
	switch def.Trigger.Kind {
	case model.TRIGGER_AT:
		if err := s.sched.ScheduleTrigger(def.Name, def.Trigger.At); err != nil {
			return "", err
		}
	case model.TRIGGER_NOW:
		return s.matcher.RunSegment(&def, uuid.NewString())
	}
	return "", nil
}

func (s *ExecutionService) UndefineFlow(name string) error {
	return s.defs.Delete(name)
}

func (s *ExecutionService) GetFlow(name string) (*model.FlowDefinition, error) {
	return s.defs.Get(name)
}

func (s *ExecutionService) ListFlows() ([]model.FlowDefinition, error) {
	return s.defs.List()
}

// PublishEvent appends the event to the contact's history and notifies
// subscribers, all on the contact's shard so the append is ordered with the
// flow steps it may unblock. Returns the cause id for completion await.
func (s *ExecutionService) PublishEvent(req model.PublishEventRequest) (string, error) {
	event := model.Event{
		Id:        uuid.NewString(),
		CauseId:   uuid.NewString(),
		Type:      req.Type,
		ContactId: req.ContactId,
		Payload:   req.Payload,
		Timestamp: s.clk.Now().UnixMilli(),
	}
	s.aggregator.OpenPending("", event.CauseId)

	errs := make(chan error, 1)
	s.dispatcher.Submit(event.ContactId, func() {
		if err := s.events.Append(event); err != nil {
			s.aggregator.Seal(event.CauseId, nil)
			errs <- err
			return
		}
		s.eventBus.Publish(bus.Message{Topic: bus.TOPIC_EVENT, Event: &event})
		errs <- nil
	})
	if err := <-errs; err != nil {
		return "", err
	}
	return event.CauseId, nil
}

type setOutcome struct {
	causeId string
	err     error
}

// SetProperty writes a contact property. The write runs on the contact's
// shard; a schema rejection reaches the caller and leaves no trace. Writing
// the current value again is a no-op with an empty cause id.
func (s *ExecutionService) SetProperty(req model.SetPropertyRequest) (string, error) {
	outcomes := make(chan setOutcome, 1)
	s.dispatcher.Submit(req.ContactId, func() {
		old, err := s.contacts.SetProperty(req.ContactId, req.Key, req.Value)
		if err != nil {
			outcomes <- setOutcome{err: err}
			return
		}
		if reflect.DeepEqual(old, req.Value) {
			outcomes <- setOutcome{}
			return
		}
		change := &model.PropertyChange{
			Id:        uuid.NewString(),
			CauseId:   uuid.NewString(),
			ContactId: req.ContactId,
			Key:       req.Key,
			Old:       old,
			New:       req.Value,
			Timestamp: s.clk.Now().UnixMilli(),
		}
		s.aggregator.OpenPending("", change.CauseId)
		s.eventBus.Publish(bus.Message{Topic: bus.TOPIC_PROPERTY_CHANGE, Change: change})
		outcomes <- setOutcome{causeId: change.CauseId}
	})
	outcome := <-outcomes
	return outcome.causeId, outcome.err
}

// RunFlow fires a flow over its segment on demand, regardless of trigger
// kind, and returns the cause id of the firing.
func (s *ExecutionService) RunFlow(name string) (string, error) {
	def, err := s.defs.Get(name)
	if err != nil {
		return "", err
	}
	logger.Info("manual flow run", zap.String("flow", name))
	return s.matcher.RunSegment(def, uuid.NewString())
}

func (s *ExecutionService) InstanceStatus(id string) (*model.InstanceStatusResponse, error) {
	instance, err := s.instances.Get(id)
	if err != nil {
		return nil, err
	}
	return toStatusResponse(instance), nil
}

func (s *ExecutionService) ListInstances(contactId string) ([]model.InstanceStatusResponse, error) {
	instances, err := s.instances.ListByContact(contactId)
	if err != nil {
		return nil, err
	}
	out := make([]model.InstanceStatusResponse, len(instances))
	for i := range instances {
		out[i] = *toStatusResponse(&instances[i])
	}
	return out, nil
}

func (s *ExecutionService) GetContact(contactId string) (*model.Contact, error) {
	return s.contacts.GetContact(contactId)
}

func (s *ExecutionService) EventHistory(contactId string, limit int) ([]model.Event, error) {
	return s.events.History(contactId, limit)
}

// AwaitCompletion blocks until everything the cause set in motion has
// finished, nested causes included.
func (s *ExecutionService) AwaitCompletion(ctx context.Context, causeId string) error {
	return s.aggregator.Await(ctx, causeId)
}

func toStatusResponse(instance *model.FlowInstance) *model.InstanceStatusResponse {
	return &model.InstanceStatusResponse{
		Id:            instance.Id,
		FlowName:      instance.FlowName,
		ContactId:     instance.ContactId,
		Status:        instance.Status.String(),
		WakeAt:        instance.WakeAt,
		FailureReason: instance.FailureReason,
	}
}
