package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/go-redis/redis/v9"
	"github.com/journeyhq/journey/model"
	"github.com/journeyhq/journey/persistence"
	"github.com/journeyhq/journey/schema"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) rd.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	return rd.NewUniversalClient(&rd.UniversalOptions{Addrs: []string{mr.Addr()}})
}

func TestFlowDefinitionDao(t *testing.T) {
	dao := NewRedisFlowDefinitionDaoFromClient(testClient(t), "test")

	def := model.FlowDefinition{
		Name:    "welcome",
		Trigger: model.Trigger{Kind: model.TRIGGER_EVENT, EventType: "signup"},
		Steps: []model.Step{
			{Kind: model.STEP_ACTION, Handler: "send_email", Params: map[string]any{"template": "welcome"}},
		},
	}
	require.NoError(t, dao.Save(def))

	got, err := dao.Get("welcome")
	require.NoError(t, err)
	require.Equal(t, def.Name, got.Name)
	require.Equal(t, model.TRIGGER_EVENT, got.Trigger.Kind)
	require.Len(t, got.Steps, 1)

	defs, err := dao.List()
	require.NoError(t, err)
	require.Len(t, defs, 1)

	require.NoError(t, dao.Delete("welcome"))
	_, err = dao.Get("welcome")
	require.ErrorAs(t, err, &persistence.NotFoundError{})
}

func TestInstanceDaoIndexes(t *testing.T) {
	dao := NewRedisInstanceDaoFromClient(testClient(t), "test")

	instance := &model.FlowInstance{
		Id:        "i1",
		FlowName:  "welcome",
		ContactId: "c1",
		Status:    model.RUNNING,
	}
	require.NoError(t, dao.Save(instance))

	active, err := dao.ActiveInstances("c1")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"welcome": "i1"}, active)

	// a running instance with a retry wake appears in the rebuild set
	instance.WakeAt = 42
	require.NoError(t, dao.Save(instance))

	waiting, err := dao.ListSuspended()
	require.NoError(t, err)
	require.Len(t, waiting, 1)

	// so does a delayed one
	instance.Status = model.WAITING_DELAY
	require.NoError(t, dao.Save(instance))

	waiting, err = dao.ListSuspended()
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	require.Equal(t, int64(42), waiting[0].WakeAt)

	// terminal transition clears both indexes
	instance.Status = model.COMPLETED
	require.NoError(t, dao.Save(instance))

	active, err = dao.ActiveInstances("c1")
	require.NoError(t, err)
	require.Empty(t, active)

	waiting, err = dao.ListSuspended()
	require.NoError(t, err)
	require.Empty(t, waiting)

	byContact, err := dao.ListByContact("c1")
	require.NoError(t, err)
	require.Len(t, byContact, 1)
	require.Equal(t, model.COMPLETED, byContact[0].Status)
}

func TestWakeQueue(t *testing.T) {
	queue := NewRedisWakeQueueFromClient(testClient(t), "test")

	require.NoError(t, queue.Push("i1", 100))
	require.NoError(t, queue.Push("i2", 200))
	require.NoError(t, queue.Push("i3", 300))

	// nothing due before the first score
	due, err := queue.PopDue(50, 10)
	require.NoError(t, err)
	require.Empty(t, due)

	due, err = queue.PopDue(200, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"i1", "i2"}, due)

	// popped members stay gone
	due, err = queue.PopDue(200, 10)
	require.NoError(t, err)
	require.Empty(t, due)

	require.NoError(t, queue.Remove("i3"))
	due, err = queue.PopDue(1000, 10)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestPropertyStore(t *testing.T) {
	sc := &schema.Schema{Fields: map[string]schema.Field{
		"email": {Type: schema.FIELD_STRING},
		"plan":  {Type: schema.FIELD_ENUM, Values: []string{"free", "pro"}},
	}}
	store := NewRedisPropertyStoreFromClient(testClient(t), "test", sc)

	old, err := store.SetProperty("c1", "email", "a@b.com")
	require.NoError(t, err)
	require.Nil(t, old)

	old, err = store.SetProperty("c1", "email", "b@c.com")
	require.NoError(t, err)
	require.Equal(t, "a@b.com", old)

	// schema rejection leaves no trace
	_, err = store.SetProperty("c1", "plan", "enterprise")
	var verr schema.ValidationError
	require.ErrorAs(t, err, &verr)

	value, err := store.GetProperty("c1", "plan")
	require.NoError(t, err)
	require.Nil(t, value)

	contact, err := store.GetContact("c1")
	require.NoError(t, err)
	require.Equal(t, "b@c.com", contact.Properties["email"])
}

func TestEventLog(t *testing.T) {
	log := NewRedisEventLogFromClient(testClient(t), "test")

	require.NoError(t, log.Append(model.Event{Id: "e1", ContactId: "c1", Type: "signup", Timestamp: 1}))
	require.NoError(t, log.Append(model.Event{Id: "e2", ContactId: "c1", Type: "purchase", Timestamp: 2}))

	events, err := log.History("c1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "signup", events[0].Type)
	require.Equal(t, "purchase", events[1].Type)

	events, err = log.History("c1", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "purchase", events[0].Type)
}

func TestCompletionDao(t *testing.T) {
	dao := NewRedisCompletionDaoFromClient(testClient(t), "test")

	group := &model.CompletionGroup{CauseId: "x", Members: []string{"a", "b"}}
	require.NoError(t, dao.Save(group))

	got, err := dao.Get("x")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got.Members)
	require.False(t, got.Resolved)

	_, err = dao.Get("missing")
	require.ErrorAs(t, err, &persistence.NotFoundError{})
}
