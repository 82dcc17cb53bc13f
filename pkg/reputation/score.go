package reputation

import (
	"math"
	"time"
)

// Score aggregates verdicts into a value in [0,1]: the weighted average of
// each verdict's outcome value, with weight decaying by half-life if one is
// configured (half-life of 0 disables decay).
func Score(verdicts []Verdict, now time.Time, halfLifeDays float64) float64 {
	var sumValue, sumWeight float64
	for _, v := range verdicts {
		weight := 1.0
		if halfLifeDays != 0 {
			ageDays := now.Sub(time.Unix(v.IssuedAt, 0)).Hours() / 24
			weight = math.Pow(0.5, ageDays/halfLifeDays)
		}
		sumValue += v.Outcome.value() * weight
		sumWeight += weight
	}
	if sumWeight == 0 {
		return 0
	}
	return sumValue / sumWeight
}

// CountBad returns the number of Bad-outcome verdicts in the set.
func CountBad(verdicts []Verdict) int {
	n := 0
	for _, v := range verdicts {
		if v.Outcome == Bad {
			n++
		}
	}
	return n
}
