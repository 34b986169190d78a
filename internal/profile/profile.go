// Package profile models multi-step discharge profiles and their
// validation against a session's expected starting point.
package profile

import (
	"math"

	"codeberg.org/hvlab/dischargectl/internal/errors"
)

var errFactory = errors.New()

// StepKind selects the load function a step programs.
type StepKind string

const (
	ConstantCurrent StepKind = "CC"
	ConstantPower   StepKind = "CP"
	ConstantVoltage StepKind = "CV"
)

// Metric names the measurement a stop condition watches.
type Metric string

const (
	MetricVoltage Metric = "voltage"
	MetricCurrent Metric = "current"
)

// StopCondition ends a step once the watched metric falls to or below
// the threshold. Discharges only ever cross downward, so no other
// comparison is supported.
type StopCondition struct {
	Metric    Metric  `yaml:"metric" json:"metric"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// Step programs one load function at a fixed level until its stop
// condition fires. Level units follow the kind: amperes for CC, watts
// for CP, volts for CV.
type Step struct {
	Kind  StepKind      `yaml:"kind" json:"kind"`
	Level float64       `yaml:"level" json:"level"`
	Stop  StopCondition `yaml:"stop" json:"stop"`
}

// Profile is an ordered, non-empty sequence of steps. Immutable once a
// session starts.
type Profile struct {
	Name  string `yaml:"name" json:"name"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Starting carries the expected initial measurements of the battery
// under test. A zero field means unknown and disables the
// threshold-below-start check for that metric.
type Starting struct {
	Voltage float64
	Current float64
}

type stepContext struct {
	StepIndex int
	Value     float64
}

// Validate checks the profile before a session may use it. All
// failures carry the offending step index.
func (p Profile) Validate(start Starting) error {
	if len(p.Steps) == 0 {
		return errFactory.New(errors.ErrValidationFailed).
			WithMessage("profile has no steps")
	}

	for i, step := range p.Steps {
		switch step.Kind {
		case ConstantCurrent, ConstantPower, ConstantVoltage:
		default:
			return errFactory.New(errors.ErrValidationFailed).
				WithMessage("unsupported step kind " + string(step.Kind)).
				WithData(stepContext{StepIndex: i})
		}

		if !isFinite(step.Level) || step.Level <= 0 {
			return errFactory.New(errors.ErrValidationFailed).
				WithMessage("step level must be a positive number").
				WithData(stepContext{StepIndex: i, Value: step.Level})
		}

		switch step.Stop.Metric {
		case MetricVoltage, MetricCurrent:
		default:
			return errFactory.New(errors.ErrValidationFailed).
				WithMessage("unsupported stop metric " + string(step.Stop.Metric)).
				WithData(stepContext{StepIndex: i})
		}

		if !isFinite(step.Stop.Threshold) || step.Stop.Threshold < 0 {
			return errFactory.New(errors.ErrValidationFailed).
				WithMessage("stop threshold must be zero or positive").
				WithData(stepContext{StepIndex: i, Value: step.Stop.Threshold})
		}

		startValue := start.Voltage
		if step.Stop.Metric == MetricCurrent {
			startValue = start.Current
		}
		if startValue > 0 && step.Stop.Threshold >= startValue {
			return errFactory.New(errors.ErrValidationFailed).
				WithMessage("stop threshold would end the step before it begins").
				WithData(stepContext{StepIndex: i, Value: step.Stop.Threshold})
		}
	}

	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
