package experiment

import (
	"math/rand"
	"sync"
	"time"
)

// RandSource is the randomness used to break ties between arms.
// *rand.Rand satisfies it.
type RandSource interface {
	Intn(n int) int
}

// ChooseArm picks the arm a new participant should see so that both arms
// stay the same size. Ties are broken 50/50 using rnd.
func ChooseArm(controlCount, variantCount int64, rnd RandSource) Arm {
	switch {
	case variantCount > controlCount:
		return ArmControl
	case variantCount < controlCount:
		return ArmVariant
	}
	if rnd.Intn(2) == 0 {
		return ArmControl
	}
	return ArmVariant
}

// LockedRand is a RandSource safe for concurrent use.
type LockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewLockedRand(seed int64) *LockedRand {
	return &LockedRand{rnd: rand.New(rand.NewSource(seed))}
}

// NewTimeSeededRand seeds from the wall clock.
func NewTimeSeededRand() *LockedRand {
	return NewLockedRand(time.Now().UnixNano())
}

func (r *LockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Intn(n)
}
