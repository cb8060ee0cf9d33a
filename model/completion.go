package model

// CompletionGroup tracks the instances spawned by one cause plus any child
// causes chained from actions those instances fired. It resolves when every
// member is terminal and every child group is resolved.
type CompletionGroup struct {
	CauseId  string   `json:"causeId"`
	Members  []string `json:"members"`
	Children []string `json:"children,omitempty"`
	Parent   string   `json:"parent,omitempty"`
	Resolved bool     `json:"resolved"`
}
