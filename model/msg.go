package model

type PublishEventRequest struct {
	ContactId string         `json:"contactId"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type SetPropertyRequest struct {
	ContactId string `json:"contactId"`
	Key       string `json:"key"`
	Value     any    `json:"value"`
}

type RunFlowRequest struct {
	Name string `json:"name"`
}

type InstanceStatusResponse struct {
	Id            string `json:"id"`
	FlowName      string `json:"flowName"`
	ContactId     string `json:"contactId"`
	Status        string `json:"status"`
	WakeAt        int64  `json:"wakeAt,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`
}
