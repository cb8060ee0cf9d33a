package trigger_test

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	rd "github.com/go-redis/redis/v9"
	"github.com/google/uuid"
	"github.com/journeyhq/journey/bus"
	"github.com/journeyhq/journey/completion"
	"github.com/journeyhq/journey/definition"
	"github.com/journeyhq/journey/engine"
	"github.com/journeyhq/journey/model"
	"github.com/journeyhq/journey/persistence"
	redisp "github.com/journeyhq/journey/persistence/redis"
	"github.com/journeyhq/journey/registry"
	"github.com/journeyhq/journey/scheduler"
	"github.com/journeyhq/journey/schema"
	"github.com/journeyhq/journey/trigger"
	"github.com/stretchr/testify/require"
)

type noopHandler struct{}

func (noopHandler) Name() string                           { return "noop" }
func (noopHandler) Execute(registry.Context) registry.Result { return registry.Ok() }

type matcherFixture struct {
	t          *testing.T
	clk        *clock.Mock
	eventBus   *bus.Bus
	dispatcher *bus.Dispatcher
	defs       definition.Service
	matcher    *trigger.Matcher
	sched      *scheduler.Scheduler
	instances  persistence.InstanceDao
	contacts   persistence.PropertyStore
	segments   interface {
		persistence.SegmentResolver
		AddContact(segmentId string, contactId string) error
	}
	aggregator *completion.Aggregator
}

func newMatcherFixture(t *testing.T) *matcherFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := rd.NewUniversalClient(&rd.UniversalOptions{Addrs: []string{mr.Addr()}})
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC))

	wg := &sync.WaitGroup{}
	dispatcher := bus.NewDispatcher(4, 256, wg)
	dispatcher.Start()
	t.Cleanup(func() {
		dispatcher.Stop()
		wg.Wait()
	})
	eventBus := bus.NewBus(dispatcher)

	sc := &schema.Schema{Fields: map[string]schema.Field{"plan": {Type: schema.FIELD_STRING}}}
	instances := redisp.NewRedisInstanceDaoFromClient(client, "test")
	contacts := redisp.NewRedisPropertyStoreFromClient(client, "test", sc)
	aggregator := completion.NewAggregator(redisp.NewRedisCompletionDaoFromClient(client, "test"))
	queue := redisp.NewRedisWakeQueueFromClient(client, "test")
	sched := scheduler.New(queue, instances, eventBus, clk, 1, 100, nil, wg)

	handlers := registry.NewRegistry()
	require.NoError(t, handlers.Register(noopHandler{}))
	defs := definition.NewService(redisp.NewRedisFlowDefinitionDaoFromClient(client, "test"), handlers)

	tz := engine.NewTimezoneProvider(contacts, time.UTC)
	eng := engine.New(instances, defs, contacts, handlers, sched, aggregator, dispatcher, tz, clk, 3, 60)
	segments := redisp.NewRedisSegmentResolverFromClient(client, "test")
	matcher := trigger.NewMatcher(defs, eng, contacts, segments, aggregator, dispatcher)

	eventBus.Subscribe(bus.TOPIC_EVENT, func(msg bus.Message) { matcher.HandleEvent(msg.Event) })
	eventBus.Subscribe(bus.TOPIC_PROPERTY_CHANGE, func(msg bus.Message) { matcher.HandlePropertyChange(msg.Change) })
	eventBus.Subscribe(bus.TOPIC_WAKE, func(msg bus.Message) {
		if msg.Wake.InstanceId != "" {
			eng.HandleWake(msg.Wake)
		} else {
			matcher.HandleTriggerWake(msg.Wake)
		}
	})

	return &matcherFixture{
		t:          t,
		clk:        clk,
		eventBus:   eventBus,
		dispatcher: dispatcher,
		defs:       defs,
		matcher:    matcher,
		sched:      sched,
		instances:  instances,
		contacts:   contacts,
		segments:   segments,
		aggregator: aggregator,
	}
}

func (f *matcherFixture) publishEvent(contactId string, eventType string, payload map[string]any) string {
	event := model.Event{
		Id:        uuid.NewString(),
		CauseId:   uuid.NewString(),
		Type:      eventType,
		ContactId: contactId,
		Payload:   payload,
		Timestamp: f.clk.Now().UnixMilli(),
	}
	f.aggregator.OpenPending("", event.CauseId)
	f.eventBus.Publish(bus.Message{Topic: bus.TOPIC_EVENT, Event: &event})
	return event.CauseId
}

func (f *matcherFixture) flowsSpawned(contactId string) []string {
	list, err := f.instances.ListByContact(contactId)
	require.NoError(f.t, err)
	names := make([]string, len(list))
	for i := range list {
		names[i] = list[i].FlowName
	}
	return names
}

func noopFlow(name string, trig model.Trigger) model.FlowDefinition {
	return model.FlowDefinition{
		Name:    name,
		Trigger: trig,
		Steps:   []model.Step{{Kind: model.STEP_ACTION, Handler: "noop"}},
	}
}

func TestEventTriggerMatchesTypeAndPredicate(t *testing.T) {
	f := newMatcherFixture(t)
	require.NoError(t, f.defs.Save(noopFlow("any-purchase",
		model.Trigger{Kind: model.TRIGGER_EVENT, EventType: "purchase"})))
	require.NoError(t, f.defs.Save(noopFlow("big-purchase", model.Trigger{
		Kind:      model.TRIGGER_EVENT,
		EventType: "purchase",
		Predicate: &model.Predicate{Path: "$.event.amount", Op: model.OP_GTE, Value: 100},
	})))
	require.NoError(t, f.defs.Save(noopFlow("signup",
		model.Trigger{Kind: model.TRIGGER_EVENT, EventType: "signup"})))

	cause := f.publishEvent("c1", "purchase", map[string]any{"amount": 49})
	require.Eventually(t, func() bool { return f.aggregator.Resolved(cause) },
		2*time.Second, 10*time.Millisecond)
	require.ElementsMatch(t, []string{"any-purchase"}, f.flowsSpawned("c1"))

	cause = f.publishEvent("c2", "purchase", map[string]any{"amount": 150})
	require.Eventually(t, func() bool { return f.aggregator.Resolved(cause) },
		2*time.Second, 10*time.Millisecond)
	require.ElementsMatch(t, []string{"any-purchase", "big-purchase"}, f.flowsSpawned("c2"))
}

func TestPropertyTriggerMatchesKeyAndNewValue(t *testing.T) {
	f := newMatcherFixture(t)
	require.NoError(t, f.defs.Save(noopFlow("winback", model.Trigger{
		Kind:        model.TRIGGER_PROPERTY,
		PropertyKey: "plan",
		Predicate:   &model.Predicate{Path: "$.change.new", Op: model.OP_EQ, Value: "churned"},
	})))

	change := &model.PropertyChange{
		Id: uuid.NewString(), CauseId: uuid.NewString(),
		ContactId: "c1", Key: "plan", Old: "pro", New: "starter",
	}
	f.aggregator.OpenPending("", change.CauseId)
	f.eventBus.Publish(bus.Message{Topic: bus.TOPIC_PROPERTY_CHANGE, Change: change})
	require.Eventually(t, func() bool { return f.aggregator.Resolved(change.CauseId) },
		2*time.Second, 10*time.Millisecond)
	require.Empty(t, f.flowsSpawned("c1"), "predicate on the new value must hold")

	churn := &model.PropertyChange{
		Id: uuid.NewString(), CauseId: uuid.NewString(),
		ContactId: "c1", Key: "plan", Old: "starter", New: "churned",
	}
	f.aggregator.OpenPending("", churn.CauseId)
	f.eventBus.Publish(bus.Message{Topic: bus.TOPIC_PROPERTY_CHANGE, Change: churn})
	require.Eventually(t, func() bool { return f.aggregator.Resolved(churn.CauseId) },
		2*time.Second, 10*time.Millisecond)
	require.ElementsMatch(t, []string{"winback"}, f.flowsSpawned("c1"))
}

func TestRunSegmentSpawnsEveryContactUnderOneCause(t *testing.T) {
	f := newMatcherFixture(t)
	def := noopFlow("announce", model.Trigger{Kind: model.TRIGGER_NOW, SegmentId: "beta"})
	require.NoError(t, f.defs.Save(def))
	for _, contactId := range []string{"c1", "c2", "c3"} {
		require.NoError(t, f.segments.AddContact("beta", contactId))
	}

	cause, err := f.matcher.RunSegment(&def, uuid.NewString())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.aggregator.Resolved(cause) },
		2*time.Second, 10*time.Millisecond)

	for _, contactId := range []string{"c1", "c2", "c3"} {
		require.ElementsMatch(t, []string{"announce"}, f.flowsSpawned(contactId))
	}
}

func TestAtTriggerFiresOverSegment(t *testing.T) {
	f := newMatcherFixture(t)
	fireAt := f.clk.Now().Add(10 * time.Minute).UnixMilli()
	def := noopFlow("launch", model.Trigger{Kind: model.TRIGGER_AT, SegmentId: "all", At: fireAt})
	require.NoError(t, f.defs.Save(def))
	require.NoError(t, f.segments.AddContact("all", "c1"))
	require.NoError(t, f.sched.ScheduleTrigger("launch", fireAt))

	f.sched.Poll()
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, f.flowsSpawned("c1"), "must not fire before the timestamp")

	f.clk.Add(10 * time.Minute)
	f.sched.Poll()
	require.Eventually(t, func() bool {
		return len(f.flowsSpawned("c1")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
