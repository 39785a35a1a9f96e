package snore

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// StratifiedSplit shuffles example indices with seed and holds out
// testFraction of them for testing while keeping the label ratio of both
// parts as close as possible to the whole.
func StratifiedSplit(labels []int, testFraction float64, seed uint64) (train, test []int, err error) {
	n := len(labels)
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in (0, 1), got %v", testFraction)
	}

	byClass := map[int][]int{}
	for i, l := range labels {
		byClass[l] = append(byClass[l], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	nTest := int(math.Ceil(testFraction*float64(n) - 1e-9))
	if nTest < len(classes) || n-nTest < len(classes) {
		return nil, nil, fmt.Errorf("cannot split %d examples of %d classes with test fraction %v", n, len(classes), testFraction)
	}

	// Largest remainder allocation of the test rows across classes.
	alloc := make(map[int]int, len(classes))
	type remainder struct {
		class int
		frac  float64
	}
	var rems []remainder
	assigned := 0
	for _, c := range classes {
		exact := float64(nTest) * float64(len(byClass[c])) / float64(n)
		alloc[c] = int(math.Floor(exact))
		assigned += alloc[c]
		rems = append(rems, remainder{class: c, frac: exact - math.Floor(exact)})
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; assigned < nTest; i++ {
		c := rems[i%len(rems)].class
		if alloc[c] < len(byClass[c]) {
			alloc[c]++
			assigned++
		}
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	for _, c := range classes {
		idx := append([]int(nil), byClass[c]...)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		test = append(test, idx[:alloc[c]]...)
		train = append(train, idx[alloc[c]:]...)
	}
	rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
	rng.Shuffle(len(test), func(i, j int) { test[i], test[j] = test[j], test[i] })
	return train, test, nil
}
