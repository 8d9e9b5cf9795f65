// Package extract turns free-form model text into a typed, schema-checked record.
//
// Extraction walks a fixed ladder and the first rung that yields an acceptable
// document wins: the whole text as JSON, a fenced code block, the first balanced
// bracketed region, per-field label regexes, and finally the field defaults.
// Extraction never fails: every declared field is always populated.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Provenance records which rung of the ladder produced a result.
type Provenance string

const (
	ProvenanceDirect      Provenance = "direct"
	ProvenanceCodeBlock   Provenance = "code_block"
	ProvenanceBracketScan Provenance = "bracket_scan"
	ProvenanceRegex       Provenance = "regex"
	ProvenanceFallback    Provenance = "fallback"
)

// Result is an extracted record.
type Result struct {
	Values     map[string]any
	Provenance Provenance

	// Err is only set for strict schemas that fell through to defaults.
	Err error
}

// Extractor applies one schema to many texts.
type Extractor struct {
	schema   Schema
	compiled *jsonschema.Schema
}

// New compiles the schema. It fails only when the optional JSON Schema document is invalid.
func New(schema Schema) (*Extractor, error) {
	compiled, err := schema.compile()
	if err != nil {
		return nil, err
	}
	return &Extractor{schema: schema, compiled: compiled}, nil
}

// Extract is a convenience wrapper for one-off extraction. An invalid JSON Schema
// document is reported on the result and the defaults are returned.
func Extract(text string, schema Schema) Result {
	e, err := New(schema)
	if err != nil {
		r := defaults(schema)
		r.Err = err
		return r
	}
	return e.Extract(text)
}

// Schema returns the schema the extractor was built with.
func (e *Extractor) Schema() Schema {
	return e.schema
}

// Extract runs the ladder over text.
func (e *Extractor) Extract(text string) Result {
	trimmed := strings.TrimSpace(text)

	if doc, ok := e.parse(trimmed); ok {
		return e.record(doc, ProvenanceDirect)
	}

	for _, block := range codeBlocks(trimmed) {
		if doc, ok := e.parse(block); ok {
			return e.record(doc, ProvenanceCodeBlock)
		}
	}

	for _, open := range []byte{'{', '['} {
		for _, region := range balancedRegions(trimmed, open) {
			if doc, ok := e.parse(region); ok {
				return e.record(doc, ProvenanceBracketScan)
			}
		}
	}

	if values, ok := e.regex(trimmed); ok {
		return Result{Values: values, Provenance: ProvenanceRegex}
	}

	r := defaults(e.schema)
	if e.schema.Strict {
		r.Err = ErrNoMatch
	}
	return r
}

// parse decodes a candidate and checks it against the expected shape.
func (e *Extractor) parse(candidate string) (map[string]any, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return nil, false
	}

	var raw any
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return nil, false
	}

	doc, ok := e.shape(raw)
	if !ok {
		return nil, false
	}

	if e.compiled != nil {
		if err := e.compiled.Validate(any(doc)); err != nil {
			return nil, false
		}
	}
	return doc, true
}

// shape normalises a decoded JSON value into a document keyed by field name.
// A map must carry at least one declared field. A bare array is wrapped into the
// list field. A bare scalar is accepted for single-field schemas.
func (e *Extractor) shape(raw any) (map[string]any, bool) {
	switch v := raw.(type) {
	case map[string]any:
		doc := make(map[string]any, len(e.schema.Fields))
		for _, f := range e.schema.Fields {
			if val, ok := lookup(v, f.Name); ok {
				doc[f.Name] = val
			}
		}
		if len(doc) == 0 {
			return nil, false
		}
		return doc, true

	case []any:
		if e.schema.ListField == "" {
			return nil, false
		}
		return map[string]any{e.schema.ListField: v}, true

	case string, float64, bool:
		if len(e.schema.Fields) != 1 || e.schema.Fields[0].Type == TypeList || e.schema.Fields[0].Type == TypeObject {
			return nil, false
		}
		return map[string]any{e.schema.Fields[0].Name: v}, true
	}
	return nil, false
}

// record coerces every declared field, substituting defaults where needed.
func (e *Extractor) record(doc map[string]any, p Provenance) Result {
	values := make(map[string]any, len(e.schema.Fields))
	for _, f := range e.schema.Fields {
		val, ok := doc[f.Name]
		if !ok {
			values[f.Name] = f.zero()
			continue
		}
		values[f.Name] = coerce(f, val)
	}
	return Result{Values: values, Provenance: p}
}

func defaults(schema Schema) Result {
	values := make(map[string]any, len(schema.Fields))
	for _, f := range schema.Fields {
		values[f.Name] = f.zero()
	}
	return Result{Values: values, Provenance: ProvenanceFallback}
}

// lookup finds a key case-insensitively, preferring an exact match.
func lookup(m map[string]any, name string) (any, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// String returns a string field.
func (r Result) String(name string) string {
	switch v := r.Values[name].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns an int field.
func (r Result) Int(name string) int {
	if v, ok := r.Values[name].(int); ok {
		return v
	}
	return 0
}

// Bool returns a bool field.
func (r Result) Bool(name string) bool {
	v, _ := r.Values[name].(bool)
	return v
}

// List returns a list field.
func (r Result) List(name string) []any {
	v, _ := r.Values[name].([]any)
	return v
}

// Fallback reports whether the record is made only of defaults.
func (r Result) Fallback() bool {
	return r.Provenance == ProvenanceFallback
}
