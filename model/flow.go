package model

type TriggerKind string

const TRIGGER_NOW TriggerKind = "now"
const TRIGGER_AT TriggerKind = "at"
const TRIGGER_EVENT TriggerKind = "event"
const TRIGGER_PROPERTY TriggerKind = "property"

// Trigger describes when a flow spawns a new instance. Event and property
// triggers carry an optional predicate evaluated against the incoming
// notification and a snapshot of the contact. Now and At triggers target a
// segment resolved by an external collaborator.
type Trigger struct {
	Kind        TriggerKind `json:"kind"`
	EventType   string      `json:"eventType,omitempty"`
	PropertyKey string      `json:"propertyKey,omitempty"`
	Predicate   *Predicate  `json:"predicate,omitempty"`
	SegmentId   string      `json:"segmentId,omitempty"`
	At          int64       `json:"at,omitempty"` // unix millis, TRIGGER_AT only
}

type StepKind string

const STEP_ACTION StepKind = "action"
const STEP_DECISION StepKind = "decision"
const STEP_DELAY StepKind = "delay"

type Step struct {
	Kind StepKind `json:"kind"`

	// action
	Handler string         `json:"handler,omitempty"`
	Params  map[string]any `json:"params,omitempty"`

	// decision
	Branches []Branch `json:"branches,omitempty"`
	Else     []Step   `json:"else,omitempty"`

	// delay
	Delay *DelaySpec `json:"delay,omitempty"`
}

type Branch struct {
	When  Predicate `json:"when"`
	Steps []Step    `json:"steps"`
}

type DelayKind string

const DELAY_RELATIVE DelayKind = "relative"
const DELAY_LOCAL DelayKind = "local"
const DELAY_EVENT DelayKind = "event"

type DelaySpec struct {
	Kind            DelayKind  `json:"kind"`
	DurationSeconds int64      `json:"durationSeconds,omitempty"`
	WallClock       string     `json:"wallClock,omitempty"` // "09:00" or "sunday 18:00"
	Event           *Predicate `json:"event,omitempty"`
	TimeoutSeconds  int64      `json:"timeoutSeconds,omitempty"` // event delays only
}

// FlowDefinition is immutable once defined. LocalTime switches wall-clock
// delay resolution to the contact's timezone instead of the engine's
// reference timezone.
type FlowDefinition struct {
	Name      string     `json:"name"`
	Trigger   Trigger    `json:"trigger"`
	Goal      *Predicate `json:"goal,omitempty"`
	LocalTime bool       `json:"localTime,omitempty"`
	Steps     []Step     `json:"steps"`
}
