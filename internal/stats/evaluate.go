// Package stats decides whether an experiment has a winner and produces
// the per-arm figures shown in reports.
package stats

import (
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pagesplit/pagesplit/internal/experiment"
)

// RequiredConfidence is the confidence level a difference must reach
// before an arm is declared the winner.
const RequiredConfidence = 0.95

// ChiSquaredTest runs Pearson's chi-squared test of independence on the
// 2x2 table {control, variant} x {conversions, failures}, without Yates'
// continuity correction. It returns the statistic and its p-value with
// one degree of freedom. ok is false when an expected cell count is zero
// and the test is undefined.
func ChiSquaredTest(controlConversions, controlFailures, variantConversions, variantFailures int64) (chi2, p float64, ok bool) {
	observed := []float64{
		float64(controlConversions), float64(controlFailures),
		float64(variantConversions), float64(variantFailures),
	}

	controlTotal := observed[0] + observed[1]
	variantTotal := observed[2] + observed[3]
	conversionTotal := observed[0] + observed[2]
	failureTotal := observed[1] + observed[3]
	n := controlTotal + variantTotal
	if n == 0 {
		return 0, 0, false
	}

	expected := []float64{
		controlTotal * conversionTotal / n, controlTotal * failureTotal / n,
		variantTotal * conversionTotal / n, variantTotal * failureTotal / n,
	}
	for _, e := range expected {
		if e == 0 {
			return 0, 0, false
		}
	}

	chi2 = stat.ChiSquare(observed, expected)
	p = distuv.ChiSquared{K: 1}.Survival(chi2)
	return chi2, p, true
}

// Evaluate returns the arm that converts significantly better, or nil
// when there is no confident winner or the data cannot support a test.
func Evaluate(controlParticipants, controlConversions, variantParticipants, variantConversions int64) *experiment.Arm {
	if controlConversions == 0 && variantConversions == 0 {
		return nil
	}
	if controlConversions > controlParticipants || variantConversions > variantParticipants {
		return nil
	}

	controlFailures := controlParticipants - controlConversions
	variantFailures := variantParticipants - variantConversions
	if controlFailures == 0 && variantFailures == 0 {
		return nil
	}

	_, p, ok := ChiSquaredTest(controlConversions, controlFailures, variantConversions, variantFailures)
	if !ok || 1-p <= RequiredConfidence {
		return nil
	}

	controlRate := rate(controlConversions, controlParticipants)
	variantRate := rate(variantConversions, variantParticipants)

	winner := experiment.ArmControl
	switch {
	case variantRate > controlRate:
		winner = experiment.ArmVariant
	case variantRate == controlRate:
		return nil
	}
	return &winner
}

func rate(conversions, participants int64) float64 {
	if participants <= 0 {
		return 0
	}
	return float64(conversions) / float64(participants)
}
