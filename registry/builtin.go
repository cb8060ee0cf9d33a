package registry

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/journeyhq/journey/bus"
	"github.com/journeyhq/journey/completion"
	"github.com/journeyhq/journey/logger"
	"github.com/journeyhq/journey/model"
	"github.com/journeyhq/journey/persistence"
	"github.com/journeyhq/journey/schema"
	"go.uber.org/zap"
)

var _ Handler = new(setPropertyHandler)

// setPropertyHandler writes a contact property through the validating store
// and publishes the resulting change record. The change carries a fresh cause
// chained to the executing instance's cause, opened pending before the
// publish so the parent group cannot resolve under the fan-out.
type setPropertyHandler struct {
	store      persistence.PropertyStore
	eventBus   *bus.Bus
	aggregator *completion.Aggregator
	clk        clock.Clock
}

func NewSetPropertyHandler(store persistence.PropertyStore, eventBus *bus.Bus, aggregator *completion.Aggregator, clk clock.Clock) Handler {
	return &setPropertyHandler{
		store:      store,
		eventBus:   eventBus,
		aggregator: aggregator,
		clk:        clk,
	}
}

func (h *setPropertyHandler) Name() string {
	return "set_property"
}

func (h *setPropertyHandler) Execute(ctx Context) Result {
	key, ok := ctx.Params["key"].(string)
	if !ok || key == "" {
		return Fail(fmt.Errorf("set_property requires a key param"))
	}
	value := ctx.Params["value"]

	old, err := h.store.SetProperty(ctx.ContactId, key, value)
	if err != nil {
		var validation schema.ValidationError
		if errors.As(err, &validation) {
			return Fail(validation)
		}
		return Retry(err)
	}
	if reflect.DeepEqual(old, value) {
		return Ok()
	}

	change := &model.PropertyChange{
		Id:          uuid.NewString(),
		CauseId:     uuid.NewString(),
		ParentCause: ctx.CauseId,
		ContactId:   ctx.ContactId,
		Key:         key,
		Old:         old,
		New:         value,
		Timestamp:   h.clk.Now().UnixMilli(),
	}
	h.aggregator.OpenPending(ctx.CauseId, change.CauseId)
	h.eventBus.Publish(bus.Message{Topic: bus.TOPIC_PROPERTY_CHANGE, Change: change})
	return Ok()
}

var _ Handler = new(fireEventHandler)

// fireEventHandler appends an event to the contact's history and publishes
// it. With the await param the executing instance suspends until every flow
// the event triggered has finished.
type fireEventHandler struct {
	events     persistence.EventLog
	eventBus   *bus.Bus
	aggregator *completion.Aggregator
	clk        clock.Clock
}

func NewFireEventHandler(events persistence.EventLog, eventBus *bus.Bus, aggregator *completion.Aggregator, clk clock.Clock) Handler {
	return &fireEventHandler{
		events:     events,
		eventBus:   eventBus,
		aggregator: aggregator,
		clk:        clk,
	}
}

func (h *fireEventHandler) Name() string {
	return "fire_event"
}

func (h *fireEventHandler) Execute(ctx Context) Result {
	eventType, ok := ctx.Params["type"].(string)
	if !ok || eventType == "" {
		return Fail(fmt.Errorf("fire_event requires a type param"))
	}
	payload, _ := ctx.Params["payload"].(map[string]any)

	event := model.Event{
		Id:          uuid.NewString(),
		CauseId:     uuid.NewString(),
		ParentCause: ctx.CauseId,
		Type:        eventType,
		ContactId:   ctx.ContactId,
		Payload:     payload,
		Timestamp:   h.clk.Now().UnixMilli(),
	}
	if err := h.events.Append(event); err != nil {
		return Retry(err)
	}
	// A retried attempt mints a new cause id, so the child group must not
	// open until the append has succeeded.
	h.aggregator.OpenPending(ctx.CauseId, event.CauseId)
	h.eventBus.Publish(bus.Message{Topic: bus.TOPIC_EVENT, Event: &event})

	await, _ := ctx.Params["await"].(bool)
	if await {
		return Result{Kind: SUCCESS, AwaitCause: event.CauseId}
	}
	return Ok()
}

// Provider delivers a message to a contact over some channel. The default
// providers only log; real gateways are registered by the embedding program.
type Provider interface {
	Send(contact *model.Contact, params map[string]any) error
}

type LogProvider struct {
	Channel string
}

func (p *LogProvider) Send(contact *model.Contact, params map[string]any) error {
	logger.Info("delivering message", zap.String("channel", p.Channel),
		zap.String("contact", contact.Id), zap.Any("params", params))
	return nil
}

var _ Handler = new(messagingHandler)

type messagingHandler struct {
	name     string
	provider Provider
}

func NewSendEmailHandler(provider Provider) Handler {
	return &messagingHandler{name: "send_email", provider: provider}
}

func NewSendSmsHandler(provider Provider) Handler {
	return &messagingHandler{name: "send_sms", provider: provider}
}

func (h *messagingHandler) Name() string {
	return h.name
}

func (h *messagingHandler) Execute(ctx Context) Result {
	if ctx.Contact == nil {
		return Fail(fmt.Errorf("%s requires a contact", h.name))
	}
	if err := h.provider.Send(ctx.Contact, ctx.Params); err != nil {
		return Retry(err)
	}
	return Ok()
}
