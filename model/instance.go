package model

type InstanceStatus int

const RUNNING InstanceStatus = 1
const FAILED InstanceStatus = 2
const COMPLETED InstanceStatus = 3
const COMPLETED_BY_GOAL InstanceStatus = 4
const WAITING_DELAY InstanceStatus = 5
const WAITING_EVENT InstanceStatus = 6

func (s InstanceStatus) Terminal() bool {
	return s == COMPLETED || s == COMPLETED_BY_GOAL || s == FAILED
}

func (s InstanceStatus) String() string {
	switch s {
	case RUNNING:
		return "RUNNING"
	case FAILED:
		return "FAILED"
	case COMPLETED:
		return "COMPLETED"
	case COMPLETED_BY_GOAL:
		return "COMPLETED_BY_GOAL"
	case WAITING_DELAY:
		return "WAITING_DELAY"
	case WAITING_EVENT:
		return "WAITING_EVENT"
	}
	return "UNKNOWN"
}

// StepRef addresses one level of the step tree. Step indexes the sequence at
// that level; Branch records the decision branch taken when descending,
// -1 for the else branch. The last element of a pointer is the current step
// and its Branch is unused.
type StepRef struct {
	Step   int `json:"step"`
	Branch int `json:"branch"`
}

type StepPointer []StepRef

// FlowInstance is one execution of a flow for one contact, spawned by one
// cause. Mutated only by the flow instance manager under the contact's
// serialization shard.
type FlowInstance struct {
	Id            string         `json:"id"`
	FlowName      string         `json:"flowName"`
	ContactId     string         `json:"contactId"`
	CauseId       string         `json:"causeId"`
	Status        InstanceStatus `json:"status"`
	Pointer       StepPointer    `json:"pointer"`
	WakeAt        int64          `json:"wakeAt,omitempty"` // unix millis, 0 when no wake pending
	AwaitCause    string         `json:"awaitCause,omitempty"`
	Vars          map[string]any `json:"vars,omitempty"`
	RetryCount    int            `json:"retryCount,omitempty"`
	FailureReason string         `json:"failureReason,omitempty"`
	EnteredAt     int64          `json:"enteredAt"`
}
