package evaluator

import "math"

// Mean returns the arithmetic mean of values, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation of values.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// IsOutlier reports whether value sits more than zThreshold standard
// deviations from the population mean. A population with no spread never
// produces outliers.
func IsOutlier(value float64, population []float64, zThreshold float64) bool {
	if len(population) < 2 {
		return false
	}
	sd := StdDev(population)
	if sd == 0 {
		return false
	}
	z := math.Abs(value-Mean(population)) / sd
	return z > zThreshold
}
