package ai

import "sort"

// JSON Schema type names.
const (
	TypeObject  = "object"
	TypeString  = "string"
	TypeBoolean = "boolean"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeArray   = "array"
)

// Schema is the subset of JSON Schema used for tool parameters and structured replies.
type Schema struct {
	Type                 string             `json:"type"`
	Description          string             `json:"description,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Required             []string           `json:"required,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`
}

// Closed returns an object schema that rejects undeclared properties.
func Closed(properties map[string]*Schema, required ...string) *Schema {
	no := false
	return &Schema{
		Type:                 TypeObject,
		Properties:           properties,
		Required:             required,
		AdditionalProperties: &no,
	}
}

// PropertyNames returns the property names in a stable order.
func (s *Schema) PropertyNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
