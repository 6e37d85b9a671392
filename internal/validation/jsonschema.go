package validation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/dsmacro/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const recordSchemaURL = "https://dsmacro.dev/schemas/routine-record.json"

// recordSchemaJSON is the JSON Schema for the flat persisted routine format.
const recordSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://dsmacro.dev/schemas/routine-record.json",
  "type": "object",
  "required": ["name", "actions"],
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1
    },
    "description": {
      "type": "string"
    },
    "actions": {
      "type": "array",
      "items": { "$ref": "#/$defs/action" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "action": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": [
            "move", "turn", "move_and_turn", "sprint", "sprint_and_turn",
            "hold_key", "hold_mouse", "wait", "scan",
            "press", "release", "tap", "mouse_move",
            "mouse_press", "mouse_release", "mouse_click"
          ]
        },
        "duration": {
          "type": ["number", "null"],
          "minimum": 0
        },
        "params": {
          "type": ["object", "null"],
          "properties": {
            "direction": { "type": "string" },
            "degrees": { "type": "number" },
            "key": { "type": "string" },
            "button": { "type": "string", "enum": ["left", "right", "middle"] },
            "dx": { "type": "number" },
            "dy": { "type": "number" }
          }
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator implements Validator with JSON Schema Draft 2020-12
// followed by semantic checks. It is safe for concurrent use.
type JSONSchemaValidator struct {
	recordSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the record schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(recordSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal record schema: %w", err)
	}
	if err := c.AddResource(recordSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add record schema resource: %w", err)
	}

	compiled, err := c.Compile(recordSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile record schema: %w", err)
	}
	return &JSONSchemaValidator{recordSchema: compiled}, nil
}

// ParseRecord validates raw JSON against the record schema, decodes it and
// runs the semantic checks. Warnings are dropped; use Check to see them.
func (v *JSONSchemaValidator) ParseRecord(data []byte) (*schema.RoutineRecord, error) {
	rec, result, err := v.Check(data)
	if err != nil {
		return nil, err
	}
	if err := result.ToError(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Check decodes data and reports every schema and semantic issue. The
// error is set only when data is not JSON at all. The record is nil when
// the document does not match the schema.
func (v *JSONSchemaValidator) Check(data []byte) (*schema.RoutineRecord, *schema.ValidationResult, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeValidation, "decode routine record: %s", err.Error()).WithCause(err)
	}
	result := &schema.ValidationResult{Record: docName(doc)}
	if !v.checkShape(doc, result) {
		return nil, result, nil
	}
	rec, err := schema.ParseRecord(data)
	if err != nil {
		return nil, nil, err
	}
	result.Merge(validateSemantic(rec))
	return rec, result, nil
}

// ValidateRecord checks an already decoded record.
func (v *JSONSchemaValidator) ValidateRecord(rec *schema.RoutineRecord) error {
	if rec == nil {
		return schema.NewError(schema.ErrCodeValidation, "routine record is nil")
	}
	doc, err := toJSONValue(rec)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize routine record").WithCause(err)
	}
	result := &schema.ValidationResult{Record: rec.Name}
	if v.checkShape(doc, result) {
		result.Merge(validateSemantic(rec))
	}
	return result.ToError()
}

// checkShape validates doc against the record schema and adds one issue
// per leaf violation. It reports whether the shape is valid.
func (v *JSONSchemaValidator) checkShape(doc any, result *schema.ValidationResult) bool {
	err := v.recordSchema.Validate(doc)
	if err == nil {
		return true
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		result.AddError("", issueSchema, err.Error())
		return false
	}
	for _, leaf := range leafViolations(verr) {
		result.AddError(recordPath(leaf.InstanceLocation), issueSchema, leafMessage(leaf))
	}
	return false
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// docName returns the "name" member of a decoded document, if any.
func docName(doc any) string {
	if m, ok := doc.(map[string]any); ok {
		if name, ok := m["name"].(string); ok {
			return name
		}
	}
	return ""
}

// leafViolations walks a ValidationError tree down to its leaves.
func leafViolations(verr *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(verr.Causes) == 0 {
		return []*jsonschema.ValidationError{verr}
	}
	var out []*jsonschema.ValidationError
	for _, cause := range verr.Causes {
		out = append(out, leafViolations(cause)...)
	}
	return out
}

// leafMessage is the violation text without the header and location the
// library prints around it.
func leafMessage(leaf *jsonschema.ValidationError) string {
	msg := strings.TrimSpace(leaf.Error())
	if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
		msg = msg[i+1:]
	}
	msg = strings.TrimPrefix(strings.TrimSpace(msg), "- ")
	if strings.HasPrefix(msg, "at '") {
		if _, rest, ok := strings.Cut(msg, "': "); ok {
			return rest
		}
	}
	return msg
}

// recordPath renders an instance location as actions[2].params.key.
func recordPath(loc []string) string {
	var b strings.Builder
	for _, tok := range loc {
		if _, err := strconv.Atoi(tok); err == nil {
			b.WriteString("[" + tok + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tok)
	}
	return b.String()
}
