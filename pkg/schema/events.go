package schema

// Event type constants for the routine lifecycle log.
const (
	EventRoutineStarted    = "routine.started"
	EventRoutineCancelling = "routine.cancelling"
	EventRoutineCompleted  = "routine.completed"
	EventRoutineCancelled  = "routine.cancelled"
	EventRoutineFailed     = "routine.failed"

	EventSequenceStarted   = "sequence.started"
	EventSequenceCompleted = "sequence.completed"

	EventEmergencyStop = "emergency.stop"
)

// RoutineStatus represents the lifecycle state of a routine.
type RoutineStatus string

const (
	RoutineStatusUnregistered RoutineStatus = "unregistered"
	RoutineStatusRunning      RoutineStatus = "running"
	RoutineStatusCancelling   RoutineStatus = "cancelling"
	RoutineStatusDone         RoutineStatus = "done"
)

// Outcome is how a finished run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)
