package validation

import "github.com/rendis/dsmacro/pkg/schema"

// Validator checks persisted routine records before they are stored or run.
// Uses JSON Schema Draft 2020-12 for the document shape.
type Validator interface {
	ValidateRecord(rec *schema.RoutineRecord) error
	ParseRecord(data []byte) (*schema.RoutineRecord, error)
	Check(data []byte) (*schema.RoutineRecord, *schema.ValidationResult, error)
}
