package validation

import (
	"fmt"

	"github.com/rendis/dsmacro/pkg/schema"
)

const (
	issueMissingParam     = "MISSING_PARAM"
	issueUnknownType      = "UNKNOWN_TYPE"
	issueUnknownButton    = "UNKNOWN_BUTTON"
	issueUnknownDirection = "UNKNOWN_DIRECTION"
	issueEmptyRecord      = "EMPTY_RECORD"
	issueEmptyName        = "EMPTY_NAME"
	issueSchema           = "SCHEMA"
)

var directions = map[string]bool{
	string(schema.DirectionForward):  true,
	string(schema.DirectionBackward): true,
	string(schema.DirectionLeft):     true,
	string(schema.DirectionRight):    true,
	string(schema.DirectionUp):       true,
	string(schema.DirectionDown):     true,
}

// validateSemantic checks what the JSON Schema cannot express: per-kind
// required params, button names and direction names.
func validateSemantic(rec *schema.RoutineRecord) *schema.ValidationResult {
	result := &schema.ValidationResult{Record: rec.Name}
	if rec.Name == "" {
		result.AddError("name", issueEmptyName, "record name is empty")
	}
	if len(rec.Actions) == 0 {
		result.AddWarning("actions", issueEmptyRecord, "record has no actions")
	}
	for i, a := range rec.Actions {
		validateAction(a, fmt.Sprintf("actions[%d]", i), result)
	}
	return result
}

func validateAction(a schema.RecordAction, path string, result *schema.ValidationResult) {
	switch a.Type {
	case string(schema.LegacyMove), string(schema.LegacySprint):
		dir := a.StringParam("direction", string(schema.DirectionForward))
		if !directions[dir] {
			result.AddWarning(path+".params.direction", issueUnknownDirection,
				fmt.Sprintf("direction %q is not a movement key; it will be sent as a key name", dir))
		}

	case string(schema.LegacyHoldKey), string(schema.ActionPress), string(schema.ActionRelease), string(schema.ActionTap):
		if a.StringParam("key", "") == "" {
			result.AddError(path+".params.key", issueMissingParam,
				fmt.Sprintf("%s requires params.key", a.Type))
		}

	case string(schema.LegacyHoldMouse), string(schema.ActionMousePress),
		string(schema.ActionMouseRelease), string(schema.ActionMouseClick):
		b := schema.MouseButton(a.StringParam("button", string(schema.MouseLeft)))
		if !b.Valid() {
			result.AddError(path+".params.button", issueUnknownButton,
				fmt.Sprintf("unknown mouse button %q", b))
		}

	case string(schema.LegacyTurn), string(schema.LegacyMoveAndTurn), string(schema.LegacySprintAndTurn),
		string(schema.LegacyScan), string(schema.LegacyWait), string(schema.ActionMouseMove):

	default:
		result.AddError(path+".type", issueUnknownType, fmt.Sprintf("unknown action type %q", a.Type))
	}
}
