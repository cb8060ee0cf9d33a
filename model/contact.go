package model

// Contact property state is owned by the property store; this snapshot is
// read once per evaluation and never cached across requests.
type Contact struct {
	Id         string         `json:"id"`
	Properties map[string]any `json:"properties"`
}

// TimezoneProperty is the reserved contact property holding an IANA zone
// identifier, consulted by the timezone provider for local-time delays.
const TimezoneProperty = "timezone"
