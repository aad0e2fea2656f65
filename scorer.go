package cdtrans

import "math"

// Scorer computes the negative log-likelihood of a diagonal Gaussian
// fitted to a Statistics object, with a variance floor.
type Scorer struct {
	VarianceFloor float64
}

// NewScorer returns a Scorer using the given variance floor.
func NewScorer(varianceFloor float64) Scorer {
	return Scorer{VarianceFloor: varianceFloor}
}

// Score returns 0.5*n*(D + D*log(2π) + Σ_d log(max(var_d, floor))), i.e.
// the cost of explaining stats with a diagonal Gaussian.
func (sc Scorer) Score(stats Statistics) float64 {
	n := stats.Weight
	if n <= 0 {
		return 0
	}
	d := float64(stats.Dim)
	variance := stats.Variance()
	logDetSum := 0.0
	for _, v := range variance {
		if v < sc.VarianceFloor {
			v = sc.VarianceFloor
		}
		logDetSum += math.Log(v)
	}
	return 0.5 * n * (d + d*math.Log(2*math.Pi) + logDetSum)
}

// FloorVariance returns the per-dimension variance of stats with the
// floor applied, used by the HMM compiler to emit Gaussian parameters.
func (sc Scorer) FloorVariance(stats Statistics) []float64 {
	variance := stats.Variance()
	for d := range variance {
		if variance[d] < sc.VarianceFloor {
			variance[d] = sc.VarianceFloor
		}
	}
	return variance
}
