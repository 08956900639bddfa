// Package bandit picks experiment policies with UCB1 over the append-only outcome log.
package bandit

import "math"

// Arm is one policy's aggregate from the outcome log.
type Arm struct {
	Policy    string
	Samples   int
	RewardSum float64
}

func (a Arm) Mean() float64 {
	if a.Samples == 0 {
		return 0
	}
	return a.RewardSum / float64(a.Samples)
}

type Scorer struct {
	// ExplorationConst is c in mean + c*sqrt(ln N / n).
	ExplorationConst float64
	// UnseenBonus is the score of a policy with no samples.
	UnseenBonus float64
}

func DefaultScorer() Scorer {
	return Scorer{ExplorationConst: math.Sqrt2, UnseenBonus: 1000}
}

// Score computes UCB1 for one arm given the total sample count. N is floored at 1.
func (s Scorer) Score(a Arm, total int) float64 {
	if a.Samples == 0 {
		return s.UnseenBonus
	}
	if total < 1 {
		total = 1
	}
	return a.Mean() + s.ExplorationConst*math.Sqrt(math.Log(float64(total))/float64(a.Samples))
}

// Best returns the index of the highest score. Ties go to the earliest arm.
func (s Scorer) Best(arms []Arm) int {
	total := 0
	for _, a := range arms {
		total += a.Samples
	}
	best, bestScore := -1, math.Inf(-1)
	for i, a := range arms {
		if sc := s.Score(a, total); sc > bestScore {
			best, bestScore = i, sc
		}
	}
	return best
}

// LeastSampled returns the indexes of the arms with the fewest samples, in order.
func LeastSampled(arms []Arm) []int {
	var idx []int
	fewest := math.MaxInt
	for i, a := range arms {
		switch {
		case a.Samples < fewest:
			fewest = a.Samples
			idx = []int{i}
		case a.Samples == fewest:
			idx = append(idx, i)
		}
	}
	return idx
}

// Clamp01 bounds a reward to [0,1].
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
