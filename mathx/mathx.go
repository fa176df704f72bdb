// Package mathx provides small numeric helpers missing from package math.
package mathx

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
// Negative values round away from zero.
func Round(x, unit float64) float64 {
	if x < 0 {
		return -Round(-x, unit)
	}
	return float64(int64(x/unit+0.5)) * unit
}

// Mean returns the arithmetic mean of xs, or 0 for an empty slice
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
