package persistence

import (
	"fmt"

	"github.com/journeyhq/journey/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

type NotFoundError struct {
	Kind string
	Id   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Id)
}

type FlowDefinitionDao interface {
	Save(def model.FlowDefinition) error
	Delete(name string) error
	Get(name string) (*model.FlowDefinition, error)
	List() ([]model.FlowDefinition, error)
}

// InstanceDao persists flow instances and maintains the active-instance
// index: for every contact at most one non-terminal instance per flow is
// recorded, which is what the trigger matcher's duplicate check reads.
type InstanceDao interface {
	Save(instance *model.FlowInstance) error
	Get(id string) (*model.FlowInstance, error)
	ActiveInstances(contactId string) (map[string]string, error)
	ListByContact(contactId string) ([]model.FlowInstance, error)
	// ListSuspended returns non-terminal instances carrying a wake time or an
	// await cause (delays, action retries, fire-and-wait continuations);
	// feeds scheduler and continuation rebuild after restart.
	ListSuspended() ([]model.FlowInstance, error)
}

// WakeQueue is the durable wake-at index. Members are opaque strings scored
// by wake time in unix millis. PopDue is destructive and never returns a
// member scored after now.
type WakeQueue interface {
	Push(member string, at int64) error
	PopDue(now int64, limit int) ([]string, error)
	Remove(member string) error
}

type CompletionDao interface {
	Save(group *model.CompletionGroup) error
	Get(causeId string) (*model.CompletionGroup, error)
	// ListUnresolved returns every group not yet resolved, for aggregator
	// restore after restart.
	ListUnresolved() ([]model.CompletionGroup, error)
}

// PropertyStore is the adapter in front of the contact datastore. Set applies
// schema validation before commit and returns the previous value so the
// caller can publish a change record; rejected writes return
// schema.ValidationError and leave no trace.
type PropertyStore interface {
	GetContact(contactId string) (*model.Contact, error)
	GetProperty(contactId string, key string) (any, error)
	SetProperty(contactId string, key string, value any) (old any, err error)
}

// SegmentResolver expands a segment id into the contact ids it currently
// holds. Now and At triggers fan out over a segment.
type SegmentResolver interface {
	Contacts(segmentId string) ([]string, error)
}

type EventLog interface {
	Append(event model.Event) error
	History(contactId string, limit int) ([]model.Event, error)
}
