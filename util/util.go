// Package util contains misc internal utilities.
package util

import "time"

// Clamp limits x to the range [low, high]
func Clamp(x, low, high float64) float64 {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// Limiter is a (min, max) pair which can check if a value falls inside it
type Limiter struct {
	Min float64 `json:"min" yaml:"Min"`
	Max float64 `json:"max" yaml:"Max"`
}

// Check returns true if Min <= v <= Max
func (l Limiter) Check(v float64) bool {
	return v >= l.Min && v <= l.Max
}

// SecsToDuration converts a floating point number of seconds to a time.Duration
func SecsToDuration(s float64) time.Duration {
	return time.Duration(s * 1e9)
}
