package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	rd "github.com/go-redis/redis/v9"
	"github.com/journeyhq/journey/bus"
	"github.com/journeyhq/journey/model"
	"github.com/journeyhq/journey/persistence"
	"github.com/journeyhq/journey/persistence/redis"
	"github.com/stretchr/testify/require"
)

type schedFixture struct {
	sched     *Scheduler
	instances persistence.InstanceDao
	clk       *clock.Mock
	wakes     chan bus.Wake
	fatals    chan error
	wg        *sync.WaitGroup
	stop      func()
}

func newSchedFixture(t *testing.T) *schedFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := rd.NewUniversalClient(&rd.UniversalOptions{Addrs: []string{mr.Addr()}})
	queue := redis.NewRedisWakeQueueFromClient(client, "test")
	instances := redis.NewRedisInstanceDaoFromClient(client, "test")

	var wg sync.WaitGroup
	dispatcher := bus.NewDispatcher(2, 64, &wg)
	dispatcher.Start()
	eventBus := bus.NewBus(dispatcher)

	wakes := make(chan bus.Wake, 16)
	eventBus.Subscribe(bus.TOPIC_WAKE, func(msg bus.Message) { wakes <- *msg.Wake })

	fatals := make(chan error, 1)
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC))

	sched := New(queue, instances, eventBus, clk, 1, 100, func(err error) { fatals <- err }, &wg)
	f := &schedFixture{
		sched:     sched,
		instances: instances,
		clk:       clk,
		wakes:     wakes,
		fatals:    fatals,
		wg:        &wg,
		stop: func() {
			dispatcher.Stop()
			wg.Wait()
		},
	}
	t.Cleanup(f.stop)
	return f
}

func (f *schedFixture) saveWaiting(t *testing.T, id string, wakeAt int64) {
	t.Helper()
	require.NoError(t, f.instances.Save(&model.FlowInstance{
		Id:        id,
		FlowName:  "welcome",
		ContactId: "c1",
		Status:    model.WAITING_DELAY,
		WakeAt:    wakeAt,
	}))
}

func (f *schedFixture) expectWake(t *testing.T, instanceId string) {
	t.Helper()
	select {
	case w := <-f.wakes:
		require.Equal(t, instanceId, w.InstanceId)
	case <-time.After(2 * time.Second):
		t.Fatalf("expected wake for %s", instanceId)
	}
}

func (f *schedFixture) expectNoWake(t *testing.T) {
	t.Helper()
	select {
	case w := <-f.wakes:
		t.Fatalf("unexpected wake %+v", w)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSchedulerNeverFiresEarly(t *testing.T) {
	f := newSchedFixture(t)
	wakeAt := f.clk.Now().Add(3 * time.Hour).UnixMilli()
	f.saveWaiting(t, "i1", wakeAt)
	require.NoError(t, f.sched.Schedule("i1", wakeAt))

	f.sched.Poll()
	f.expectNoWake(t)

	f.clk.Add(2 * time.Hour)
	f.sched.Poll()
	f.expectNoWake(t)

	f.clk.Add(time.Hour)
	f.sched.Poll()
	f.expectWake(t, "i1")
}

func TestSchedulerCancelNeverFires(t *testing.T) {
	f := newSchedFixture(t)
	wakeAt := f.clk.Now().Add(time.Minute).UnixMilli()
	f.saveWaiting(t, "i1", wakeAt)
	require.NoError(t, f.sched.Schedule("i1", wakeAt))

	require.NoError(t, f.sched.Cancel("i1"))
	f.clk.Add(time.Hour)
	f.sched.Poll()
	f.expectNoWake(t)
}

func TestSchedulerSkipsTerminalInstances(t *testing.T) {
	f := newSchedFixture(t)
	wakeAt := f.clk.Now().Add(time.Minute).UnixMilli()
	f.saveWaiting(t, "i1", wakeAt)
	require.NoError(t, f.sched.Schedule("i1", wakeAt))

	// instance completed by goal after the wake was queued
	require.NoError(t, f.instances.Save(&model.FlowInstance{
		Id: "i1", FlowName: "welcome", ContactId: "c1", Status: model.COMPLETED_BY_GOAL,
	}))

	f.clk.Add(time.Hour)
	f.sched.Poll()
	f.expectNoWake(t)
}

func TestSchedulerRebuild(t *testing.T) {
	f := newSchedFixture(t)
	wakeAt := f.clk.Now().Add(time.Minute).UnixMilli()
	// instance persisted as waiting but the wake queue is empty, as after a
	// process restart
	f.saveWaiting(t, "i1", wakeAt)

	require.NoError(t, f.sched.Rebuild())
	f.clk.Add(time.Hour)
	f.sched.Poll()
	f.expectWake(t, "i1")
}

func TestSchedulerHaltsOnMissingInstance(t *testing.T) {
	f := newSchedFixture(t)
	require.NoError(t, f.sched.Schedule("ghost", f.clk.Now().UnixMilli()))

	f.sched.Poll()
	select {
	case err := <-f.fatals:
		require.ErrorAs(t, err, &DurabilityError{})
	case <-time.After(2 * time.Second):
		t.Fatal("expected scheduler halt")
	}
	require.True(t, f.sched.Halted())

	// a halted scheduler stops polling entirely
	require.NoError(t, f.sched.Schedule("i2", f.clk.Now().UnixMilli()))
	f.sched.Poll()
	f.expectNoWake(t)
}

func TestSchedulerTriggerWake(t *testing.T) {
	f := newSchedFixture(t)
	at := f.clk.Now().Add(time.Minute).UnixMilli()
	require.NoError(t, f.sched.ScheduleTrigger("launch-campaign", at))

	f.clk.Add(2 * time.Minute)
	f.sched.Poll()
	select {
	case w := <-f.wakes:
		require.Equal(t, "launch-campaign", w.FlowName)
		require.Empty(t, w.InstanceId)
	case <-time.After(2 * time.Second):
		t.Fatal("expected trigger wake")
	}
}
