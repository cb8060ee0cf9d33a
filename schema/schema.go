package schema

import (
	"fmt"
	"time"
)

type FieldType string

const FIELD_STRING FieldType = "string"
const FIELD_NUMBER FieldType = "number"
const FIELD_BOOL FieldType = "bool"
const FIELD_ENUM FieldType = "enum"
const FIELD_DATETIME FieldType = "datetime"

type Field struct {
	Type       FieldType `json:"type"`
	Values     []string  `json:"values,omitempty"` // enum only
	AllowBlank bool      `json:"allowBlank,omitempty"`
}

// Schema declares the contact properties a workspace accepts. Writes to
// undeclared keys are rejected; the property store applies Validate before
// every commit.
type Schema struct {
	Fields map[string]Field `json:"fields"`
}

type ValidationError struct {
	Key    string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid write to property %q: %s", e.Key, e.Reason)
}

func (s *Schema) Validate(key string, value any) error {
	field, ok := s.Fields[key]
	if !ok {
		return ValidationError{Key: key, Reason: "property not declared in schema"}
	}
	if value == nil || value == "" {
		if field.AllowBlank {
			return nil
		}
		return ValidationError{Key: key, Reason: "blank value not allowed"}
	}
	switch field.Type {
	case FIELD_STRING:
		if _, ok := value.(string); !ok {
			return ValidationError{Key: key, Reason: "expected string"}
		}
	case FIELD_NUMBER:
		switch value.(type) {
		case int, int32, int64, float32, float64:
		default:
			return ValidationError{Key: key, Reason: "expected number"}
		}
	case FIELD_BOOL:
		if _, ok := value.(bool); !ok {
			return ValidationError{Key: key, Reason: "expected bool"}
		}
	case FIELD_ENUM:
		str, ok := value.(string)
		if !ok {
			return ValidationError{Key: key, Reason: "expected enum string"}
		}
		for _, v := range field.Values {
			if v == str {
				return nil
			}
		}
		return ValidationError{Key: key, Reason: fmt.Sprintf("value %q not in enumeration", str)}
	case FIELD_DATETIME:
		str, ok := value.(string)
		if !ok {
			return ValidationError{Key: key, Reason: "expected RFC3339 datetime string"}
		}
		if _, err := time.Parse(time.RFC3339, str); err != nil {
			return ValidationError{Key: key, Reason: "malformed datetime"}
		}
	default:
		return ValidationError{Key: key, Reason: fmt.Sprintf("unknown field type %q", field.Type)}
	}
	return nil
}
