package behavior

import "math"

// BaselineScorer is a model-free anomaly scorer: each user's raw score
// is their feature vector's euclidean distance from the population mean,
// with every dimension scaled by its population range. It is the
// fallback when no trained model is deployed.
type BaselineScorer struct{}

func (BaselineScorer) Name() string { return "baseline" }

func (BaselineScorer) Score(vectors []FeatureVector) ([]float64, error) {
	n := len(vectors)
	scores := make([]float64, n)
	if n == 0 {
		return scores, nil
	}

	dims := make([][]float64, n)
	for i, v := range vectors {
		dims[i] = []float64{v.Hour, v.DayOfWeek, v.ActivityVolume, v.ServiceDiversity}
	}
	k := len(dims[0])

	mean := make([]float64, k)
	lo := make([]float64, k)
	hi := make([]float64, k)
	copy(lo, dims[0])
	copy(hi, dims[0])
	for _, row := range dims {
		for j, x := range row {
			mean[j] += x
			if x < lo[j] {
				lo[j] = x
			}
			if x > hi[j] {
				hi[j] = x
			}
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	for i, row := range dims {
		var sum float64
		for j, x := range row {
			span := hi[j] - lo[j]
			if span == 0 {
				continue
			}
			d := (x - mean[j]) / span
			sum += d * d
		}
		scores[i] = math.Sqrt(sum)
	}
	return scores, nil
}
