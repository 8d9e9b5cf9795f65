package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FieldType is the expected type of an extracted field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeBool   FieldType = "bool"
	TypeList   FieldType = "list"
	TypeObject FieldType = "object"
)

// Field describes one value to pull out of model text.
type Field struct {
	Name string
	Type FieldType

	// AllowedValues, when set, restricts a string field. Matching is case-insensitive
	// and exact; anything else resolves to Default.
	AllowedValues []string

	// Default is used whenever the field cannot be matched.
	Default any

	// Label is the line prefix searched by the regex rung ("VERDICT" matches
	// "VERDICT: approved"). Defaults to the field name.
	Label string

	// Multiline makes the regex rung capture everything after the label,
	// including following lines.
	Multiline bool

	// MatchTokens lets the regex rung fall back to the first word in the text
	// that equals an allowed value. Only meaningful with AllowedValues.
	MatchTokens bool
}

// Schema is the shape of the record a caller expects.
type Schema struct {
	Fields []Field

	// ListField names the field a bare JSON array is wrapped into.
	ListField string

	// Strict marks a total miss as an error. Defaults are still returned.
	Strict bool

	// JSONSchema is an optional JSON Schema document every structured candidate
	// must satisfy. A candidate that fails validation is skipped.
	JSONSchema string
}

// ErrNoMatch is set on strict results when every rung of the ladder failed.
var ErrNoMatch = errors.New("no structured output found")

// Field returns the field definition by name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (s Schema) compile() (*jsonschema.Schema, error) {
	if strings.TrimSpace(s.JSONSchema) == "" {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(s.JSONSchema)); err != nil {
		return nil, fmt.Errorf("add json schema: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile json schema: %w", err)
	}
	return compiled, nil
}

func (f Field) label() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// zero returns the field default, or the type's empty value when no default is set,
// so a record never carries a nil for a declared field.
func (f Field) zero() any {
	if f.Default != nil {
		return f.Default
	}
	switch f.Type {
	case TypeInt:
		return 0
	case TypeBool:
		return false
	case TypeList:
		return []any{}
	case TypeObject:
		return map[string]any{}
	default:
		return ""
	}
}
