package engine

import (
	"math"
	"time"

	"github.com/rendis/dsmacro/pkg/schema"
)

// TurnPlan is the step decomposition of a smooth turn.
type TurnPlan struct {
	// Deltas are the ideal per-step pixel displacements.
	Deltas []float64
	// Moves are the integer displacements actually sent. Rounding error is
	// carried forward so Moves sum to round(Total).
	Moves    []int
	Total    float64
	Interval time.Duration
}

// Steps returns the number of discrete steps.
func (p TurnPlan) Steps() int { return len(p.Moves) }

// PlanTurn decomposes a turn of degrees over d into floor(d*stepsPerSecond)
// steps shaped by a half-sine envelope: slow in, slow out, zero at the
// first and last step. With fewer than three steps the envelope has no
// interior and the displacement is spread evenly.
func PlanTurn(degrees float64, d time.Duration, pixelsPerDegree, stepsPerSecond float64) (TurnPlan, error) {
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) {
		return TurnPlan{}, schema.NewErrorf(schema.ErrCodeValidation, "turn: degrees must be a real number, got %v", degrees)
	}
	if pixelsPerDegree <= 0 || stepsPerSecond <= 0 {
		return TurnPlan{}, schema.NewErrorf(schema.ErrCodeConfiguration,
			"turn: pixels_per_degree and steps_per_second must be positive, got %v and %v", pixelsPerDegree, stepsPerSecond)
	}
	steps := int(math.Floor(d.Seconds() * stepsPerSecond))
	if steps < 1 {
		return TurnPlan{}, schema.NewErrorf(schema.ErrCodeValidation,
			"turn: duration %s yields no steps at %v steps/s", d, stepsPerSecond)
	}

	total := degrees * pixelsPerDegree
	weights := make([]float64, steps)
	var sum float64
	if steps >= 3 {
		for i := 1; i < steps-1; i++ {
			weights[i] = math.Sin(math.Pi * float64(i) / float64(steps-1))
			sum += weights[i]
		}
	}
	if sum == 0 {
		for i := range weights {
			weights[i] = 1
		}
		sum = float64(steps)
	}

	plan := TurnPlan{
		Deltas:   make([]float64, steps),
		Moves:    make([]int, steps),
		Total:    total,
		Interval: d / time.Duration(steps),
	}
	var cum float64
	sent := 0
	for i, w := range weights {
		plan.Deltas[i] = total * w / sum
		cum += plan.Deltas[i]
		target := int(math.Round(cum))
		plan.Moves[i] = target - sent
		sent = target
	}
	return plan, nil
}
