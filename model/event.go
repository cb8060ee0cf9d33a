package model

// Event is an append-only record in a contact's history. CauseId groups the
// instances the event spawns into one completion group; ParentCause, when
// set, ties that group to the cause of the flow step that fired the event.
type Event struct {
	Id          string         `json:"id"`
	CauseId     string         `json:"causeId"`
	ParentCause string         `json:"parentCause,omitempty"`
	Type        string         `json:"type"`
	ContactId   string         `json:"contactId"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}

type PropertyChange struct {
	Id          string `json:"id"`
	CauseId     string `json:"causeId"`
	ParentCause string `json:"parentCause,omitempty"`
	ContactId   string `json:"contactId"`
	Key         string `json:"key"`
	Old         any    `json:"old,omitempty"`
	New         any    `json:"new"`
	Timestamp   int64  `json:"timestamp"`
}
