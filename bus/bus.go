package bus

import (
	"sync"

	"github.com/journeyhq/journey/model"
)

type Topic string

const TOPIC_EVENT Topic = "event"
const TOPIC_PROPERTY_CHANGE Topic = "property_change"
const TOPIC_WAKE Topic = "wake"

// Wake is a delay-scheduler resume notification. InstanceId is set for
// instance delays, FlowName for At-trigger firings.
type Wake struct {
	InstanceId string
	FlowName   string
	ContactId  string
	At         int64
}

type Message struct {
	Topic  Topic
	Event  *model.Event
	Change *model.PropertyChange
	Wake   *Wake
}

// Key is the serialization key of the message, the subject contact where one
// exists.
func (m Message) Key() string {
	switch {
	case m.Event != nil:
		return m.Event.ContactId
	case m.Change != nil:
		return m.Change.ContactId
	case m.Wake != nil:
		if m.Wake.ContactId != "" {
			return m.Wake.ContactId
		}
		return m.Wake.FlowName
	}
	return ""
}

type Handler func(msg Message)

// Bus fans messages out to topic subscribers through the dispatcher, so all
// deliveries concerning one contact stay serialized regardless of how many
// subscribers a topic has.
type Bus struct {
	dispatcher *Dispatcher
	mu         sync.RWMutex
	subs       map[Topic][]Handler
}

func NewBus(dispatcher *Dispatcher) *Bus {
	return &Bus{
		dispatcher: dispatcher,
		subs:       make(map[Topic][]Handler),
	}
}

func (b *Bus) Subscribe(topic Topic, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], handler)
}

func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	handlers := b.subs[msg.Topic]
	b.mu.RUnlock()
	key := msg.Key()
	for _, handler := range handlers {
		h := handler
		b.dispatcher.Submit(key, func() { h(msg) })
	}
}
