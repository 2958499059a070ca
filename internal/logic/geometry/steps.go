package geometry

import (
	"math"

	"github.com/cjeanneret/FocusGo/internal/config"
)

// StepsCalculator converts between output-shaft angles and motor steps.
type StepsCalculator struct {
	stepsPerDegree float64
}

// NewStepsCalculator creates a step calculator from the motor configuration.
// The gear ratio is motor turns per output turn.
func NewStepsCalculator(cfg *config.Config) *StepsCalculator {
	m := cfg.Motor
	microstepsPerRev := float64(m.StepsPerRev*m.Microstepping) * m.GearRatio
	return &StepsCalculator{stepsPerDegree: microstepsPerRev / 360.0}
}

// StepsPerDegree returns the conversion ratio.
func (s *StepsCalculator) StepsPerDegree() float64 {
	return s.stepsPerDegree
}

// StepsFromDegrees converts an angle to the nearest signed step count,
// saturating at the int32 range.
func (s *StepsCalculator) StepsFromDegrees(deg float64) int32 {
	v := math.Round(deg * s.stepsPerDegree)
	switch {
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

// DegreesFromSteps converts a signed step count back to degrees.
func (s *StepsCalculator) DegreesFromSteps(steps int32) float64 {
	if s.stepsPerDegree == 0 {
		return 0
	}
	return float64(steps) / s.stepsPerDegree
}

// MoveSteps resolves the stack move distance: move_degrees when set,
// move_steps otherwise.
func (s *StepsCalculator) MoveSteps(stack config.StackConfig) int32 {
	if stack.MoveDegrees != 0 {
		return s.StepsFromDegrees(stack.MoveDegrees)
	}
	return stack.MoveSteps
}
