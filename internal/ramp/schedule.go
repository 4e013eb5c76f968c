package ramp

import (
	"fmt"
	"math"
	"time"
)

// DefaultTickInterval is how often the scheduling loop re-evaluates the
// target concurrency when no interval is configured.
const DefaultTickInterval = time.Second

// MaxStageTarget is the largest VU count a stage may ask for.
const MaxStageTarget = math.MaxInt32

// Stage is one time-bounded segment of a load plan.
//
// Example stages (from 0 VUs):
//
//	{Duration: 2 * time.Minute, Target: 100}  // ramp 0 -> 100 over 2m
//	{Duration: 5 * time.Minute, Target: 200}  // ramp 100 -> 200 over 5m
//	{Duration: 2 * time.Minute, Target: 100}  // ramp 200 -> 100 over 2m
type Stage struct {
	// Duration of this stage. Must be > 0.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target is the VU count reached at the end of the stage.
	Target int `json:"target" yaml:"target"`

	// Name is an optional label used in progress output.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Phase describes the direction of the ramp at a point in the schedule.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// Checkpoint is the desired concurrency at a given elapsed time.
type Checkpoint struct {
	Elapsed time.Duration `json:"elapsed"`
	Target  int           `json:"target"`
	Stage   int           `json:"stage"`
}

// Schedule maps elapsed run time to a target VU count.
//
// Within a stage the level is linearly interpolated between the level at the
// start of the stage and the stage target. The first stage starts at 0 and
// every following stage starts where the previous one ended.
type Schedule struct {
	stages  []Stage
	offsets []time.Duration // elapsed time at which each stage starts
	starts  []int           // level at which each stage starts
	total   time.Duration
	max     int
}

// NewSchedule builds a schedule from an ordered list of stages.
func NewSchedule(stages []Stage) (*Schedule, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("%w: at least one stage is required", ErrInvalidPlan)
	}

	s := &Schedule{
		stages:  make([]Stage, len(stages)),
		offsets: make([]time.Duration, len(stages)),
		starts:  make([]int, len(stages)),
	}
	copy(s.stages, stages)

	level := 0
	for i, stage := range stages {
		if stage.Duration <= 0 {
			return nil, fmt.Errorf("%w: stage %d: duration must be > 0", ErrInvalidPlan, i+1)
		}
		if stage.Target < 0 {
			return nil, fmt.Errorf("%w: stage %d: target cannot be negative", ErrInvalidPlan, i+1)
		}
		if stage.Target > MaxStageTarget {
			return nil, fmt.Errorf("%w: stage %d: target cannot exceed %d", ErrInvalidPlan, i+1, MaxStageTarget)
		}

		s.offsets[i] = s.total
		s.starts[i] = level
		s.total += stage.Duration
		level = stage.Target

		if stage.Target > s.max {
			s.max = stage.Target
		}
	}

	return s, nil
}

// Stages returns a copy of the stages.
func (s *Schedule) Stages() []Stage {
	out := make([]Stage, len(s.stages))
	copy(out, s.stages)
	return out
}

// Total is the sum of all stage durations.
func (s *Schedule) Total() time.Duration {
	return s.total
}

// MaxTarget is the highest target across all stages.
func (s *Schedule) MaxTarget() int {
	return s.max
}

// StageAt returns the index of the stage enclosing elapsed. Elapsed values
// past the end of the schedule map to the last stage.
func (s *Schedule) StageAt(elapsed time.Duration) int {
	if elapsed <= 0 {
		return 0
	}
	for i := range s.stages {
		if elapsed < s.offsets[i]+s.stages[i].Duration {
			return i
		}
	}
	return len(s.stages) - 1
}

// TargetAt returns the desired VU count at elapsed, rounded to the nearest
// integer.
func (s *Schedule) TargetAt(elapsed time.Duration) int {
	if elapsed <= 0 {
		return s.starts[0]
	}
	if elapsed >= s.total {
		return s.stages[len(s.stages)-1].Target
	}

	i := s.StageAt(elapsed)
	stage := s.stages[i]
	from := s.starts[i]

	progress := float64(elapsed-s.offsets[i]) / float64(stage.Duration)
	level := float64(from) + float64(stage.Target-from)*progress
	return int(math.Round(level))
}

// PhaseAt classifies the stage enclosing elapsed.
func (s *Schedule) PhaseAt(elapsed time.Duration) Phase {
	if elapsed < 0 {
		return PhaseInit
	}
	if elapsed >= s.total {
		return PhaseDone
	}

	i := s.StageAt(elapsed)
	switch from, to := s.starts[i], s.stages[i].Target; {
	case to > from:
		return PhaseRampUp
	case to < from:
		return PhaseRampDown
	default:
		return PhaseSteady
	}
}

// Checkpoints samples the schedule every tick from 0 to Total inclusive.
// The last checkpoint always falls exactly on Total.
func (s *Schedule) Checkpoints(tick time.Duration) []Checkpoint {
	if tick <= 0 {
		tick = DefaultTickInterval
	}

	points := make([]Checkpoint, 0, int(s.total/tick)+2)
	for t := time.Duration(0); t < s.total; t += tick {
		points = append(points, Checkpoint{Elapsed: t, Target: s.TargetAt(t), Stage: s.StageAt(t)})
	}
	points = append(points, Checkpoint{
		Elapsed: s.total,
		Target:  s.TargetAt(s.total),
		Stage:   len(s.stages) - 1,
	})
	return points
}
