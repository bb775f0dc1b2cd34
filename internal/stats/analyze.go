package stats

import "github.com/pagesplit/pagesplit/internal/experiment"

// Counts are the aggregated figures for one arm.
type Counts struct {
	Participants int64
	Conversions  int64
}

// Result represents statistical analysis of an experiment
type Result struct {
	Arms            []ArmResult
	ConfidenceLevel float64 // 1 - p, zero when no test could be run
	Leading         *experiment.Arm
	Winner          *experiment.Arm
}

// ArmResult contains statistics for a single arm
type ArmResult struct {
	Arm          experiment.Arm
	Participants int64
	Conversions  int64
	Rate         float64
	CILower      float64
	CIUpper      float64
}

// Analyze calculates report statistics for both arms. Winner is exactly
// what Evaluate returns for the same counts.
func Analyze(control, variant Counts) *Result {
	result := &Result{
		Winner: Evaluate(control.Participants, control.Conversions, variant.Participants, variant.Conversions),
	}

	byArm := map[experiment.Arm]Counts{
		experiment.ArmControl: control,
		experiment.ArmVariant: variant,
	}
	for _, arm := range experiment.Arms {
		c := byArm[arm]
		lower, upper := WilsonInterval(c.Conversions, c.Participants, RequiredConfidence)
		result.Arms = append(result.Arms, ArmResult{
			Arm:          arm,
			Participants: c.Participants,
			Conversions:  c.Conversions,
			Rate:         rate(c.Conversions, c.Participants),
			CILower:      lower,
			CIUpper:      upper,
		})
	}

	controlRate, variantRate := result.Arms[0].Rate, result.Arms[1].Rate
	if controlRate != variantRate {
		leading := experiment.ArmControl
		if variantRate > controlRate {
			leading = experiment.ArmVariant
		}
		result.Leading = &leading
	}

	if control.Conversions <= control.Participants && variant.Conversions <= variant.Participants {
		_, p, ok := ChiSquaredTest(
			control.Conversions, control.Participants-control.Conversions,
			variant.Conversions, variant.Participants-variant.Conversions,
		)
		if ok {
			result.ConfidenceLevel = 1 - p
		}
	}

	return result
}

// Confident reports whether the result reached the required confidence.
func (r *Result) Confident() bool {
	return r.Winner != nil
}
