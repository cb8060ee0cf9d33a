package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/journeyhq/journey/model"
	"github.com/stretchr/testify/require"
)

func TestDispatcherSerializesPerKey(t *testing.T) {
	var wg sync.WaitGroup
	d := NewDispatcher(4, 128, &wg)
	d.Start()
	defer func() {
		d.Stop()
		wg.Wait()
	}()

	var mu sync.Mutex
	order := make(map[string][]int)
	var done sync.WaitGroup

	keys := []string{"c1", "c2", "c3"}
	for i := 0; i < 50; i++ {
		for _, key := range keys {
			key, i := key, i
			done.Add(1)
			d.Submit(key, func() {
				mu.Lock()
				order[key] = append(order[key], i)
				mu.Unlock()
				done.Done()
			})
		}
	}
	done.Wait()

	for _, key := range keys {
		require.Len(t, order[key], 50)
		for i, got := range order[key] {
			require.Equal(t, i, got, "jobs for key %s ran out of order", key)
		}
	}
}

func TestBusFanOut(t *testing.T) {
	var wg sync.WaitGroup
	d := NewDispatcher(2, 16, &wg)
	d.Start()
	defer func() {
		d.Stop()
		wg.Wait()
	}()

	b := NewBus(d)
	got := make(chan string, 4)
	b.Subscribe(TOPIC_EVENT, func(msg Message) { got <- "first:" + msg.Event.Type })
	b.Subscribe(TOPIC_EVENT, func(msg Message) { got <- "second:" + msg.Event.Type })
	b.Subscribe(TOPIC_WAKE, func(msg Message) { got <- "wake" })

	b.Publish(Message{Topic: TOPIC_EVENT, Event: &model.Event{ContactId: "c1", Type: "signup"}})

	received := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case v := <-got:
			received[v] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting on fan-out")
		}
	}
	require.True(t, received["first:signup"])
	require.True(t, received["second:signup"])

	select {
	case v := <-got:
		t.Fatalf("unexpected extra delivery %q", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMessageKey(t *testing.T) {
	require.Equal(t, "c1", Message{Topic: TOPIC_EVENT, Event: &model.Event{ContactId: "c1"}}.Key())
	require.Equal(t, "c2", Message{Topic: TOPIC_PROPERTY_CHANGE, Change: &model.PropertyChange{ContactId: "c2"}}.Key())
	require.Equal(t, "c3", Message{Topic: TOPIC_WAKE, Wake: &Wake{InstanceId: "i1", ContactId: "c3"}}.Key())
	require.Equal(t, "welcome", Message{Topic: TOPIC_WAKE, Wake: &Wake{FlowName: "welcome"}}.Key())
}
