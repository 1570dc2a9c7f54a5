package main

import (
	"math/rand"
	"time"
)

// newSeededRand builds a *rand.Rand seeded by seed, or by the current time
// when seed is 0, matching pkg/config's "0 means derive from the current
// time" convention for Train.RandomSeed/Gen.RandomSeed.
func newSeededRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
