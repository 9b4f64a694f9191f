// Package mathx provides small numerical helpers shared by the waveform code.
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	return float64(int64(x/unit+0.5)) * unit
}

// Rint rounds to the nearest integer, ties to even.  This matches the
// rounding used by the acquisition software this server replaces, so sample
// counts are bit-identical to historical data.
func Rint(x float64) int {
	f := math.RoundToEven(x)
	return int(f)
}

// Linspace returns n evenly spaced samples over [start, stop], inclusive of
// both endpoints.  n <= 0 returns an empty slice, n == 1 returns [start].
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := 0; i < n; i++ {
		out[i] = start + float64(i)*step
	}
	// clamp the last sample to the bound; accumulated error otherwise leaks
	// into the final output voltage
	out[n-1] = stop
	return out
}

// Reverse reverses a slice of floats in place and returns it for chaining.
func Reverse(s []float64) []float64 {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
	return s
}
