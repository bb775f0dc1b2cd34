package experiment_test

import (
	"testing"

	"github.com/pagesplit/pagesplit/internal/experiment"
)

// scriptedRand returns the queued values in order.
type scriptedRand struct {
	values []int
}

func (r *scriptedRand) Intn(n int) int {
	v := r.values[0]
	r.values = r.values[1:]
	return v % n
}

func TestChooseArm_Unbalanced(t *testing.T) {
	rnd := &scriptedRand{}

	if got := experiment.ChooseArm(3, 5, rnd); got != experiment.ArmControl {
		t.Errorf("got %s, want control", got)
	}
	if got := experiment.ChooseArm(5, 3, rnd); got != experiment.ArmVariant {
		t.Errorf("got %s, want variant", got)
	}
}

func TestChooseArm_TieUsesRandSource(t *testing.T) {
	rnd := &scriptedRand{values: []int{0, 1, 1, 0}}

	want := []experiment.Arm{experiment.ArmControl, experiment.ArmVariant, experiment.ArmVariant, experiment.ArmControl}
	for i, w := range want {
		if got := experiment.ChooseArm(7, 7, rnd); got != w {
			t.Errorf("call %d: got %s, want %s", i, got, w)
		}
	}
}

func TestChooseArm_Converges(t *testing.T) {
	rnd := experiment.NewLockedRand(42)
	counts := map[experiment.Arm]int64{}

	for i := 0; i < 1001; i++ {
		arm := experiment.ChooseArm(counts[experiment.ArmControl], counts[experiment.ArmVariant], rnd)
		counts[arm]++

		diff := counts[experiment.ArmControl] - counts[experiment.ArmVariant]
		if diff > 1 || diff < -1 {
			t.Fatalf("arms diverged after %d participants: %v", i+1, counts)
		}
	}
}

func TestParseArm(t *testing.T) {
	if a, err := experiment.ParseArm(" Variant "); err != nil || a != experiment.ArmVariant {
		t.Errorf("got (%s, %v), want variant", a, err)
	}
	if _, err := experiment.ParseArm("treatment"); err == nil {
		t.Error("expected error for unknown arm")
	}
}
