/*Package ramp synthesizes speed- and acceleration-limited voltage ramps for
a DAC driven by a fixed step clock.

A ramp is a finite sequence of output samples.  The shape is trapezoidal in
velocity: a quadratically spaced acceleration region, a linear region at the
commanded speed, and a mirror-image deceleration region into the far bound.
The smoothing step count sets how many samples each end region contains;
zero smoothing steps collapses the profile to a plain linear ramp.

Profiles are always computed in the ascending direction and reversed when the
end voltage is below the start voltage, which keeps the acceleration shape
identical in both directions.
*/
package ramp

import (
	"errors"
	"math"

	"github.com/nasa-jpl/voltscan/mathx"
)

var (
	// ErrNonPositiveSpeed is generated when a ramp is requested with speed <= 0
	ErrNonPositiveSpeed = errors.New("ramp: speed must be strictly positive")

	// ErrNonPositiveClock is generated when a ramp is requested with clock frequency <= 0
	ErrNonPositiveClock = errors.New("ramp: clock frequency must be strictly positive")

	// ErrNegativeSmoothing is generated when a ramp is requested with a negative smoothing step count
	ErrNegativeSmoothing = errors.New("ramp: smoothing steps must be >= 0")

	// ErrNotFinite is generated when a ramp endpoint is NaN or Inf
	ErrNotFinite = errors.New("ramp: endpoint voltages must be finite")
)

// Generate produces the sample sequence for one transition from vStart to
// vEnd.  speed is in volts per second, clockFreq in samples per second, and
// smoothingSteps is the number of acceleration samples on each end of the
// profile.  vStart and vEnd may be equal or in either order.
//
// The returned profile always contains at least one sample and always ends
// on the vEnd-side bound.  Generate is a pure function and is safe to call
// from any goroutine.
func Generate(vStart, vEnd, speed, clockFreq float64, smoothingSteps int) ([]float64, error) {
	if speed <= 0 {
		return nil, ErrNonPositiveSpeed
	}
	if clockFreq <= 0 {
		return nil, ErrNonPositiveClock
	}
	if smoothingSteps < 0 {
		return nil, ErrNegativeSmoothing
	}
	if !finite(vStart) || !finite(vEnd) {
		return nil, ErrNotFinite
	}

	// the smoothed profile is much easier to compute for the upward
	// direction only; flip at the end for downward ramps
	lo := math.Min(vStart, vEnd)
	hi := math.Max(vStart, vEnd)

	step := speed / clockFreq
	smoothingRange := smoothingSteps + 1

	// voltage consumed accelerating through the smoothing steps; the per-step
	// increment ramps linearly from 0 to step, so the total is the sum
	// 0 + 1 + ... + (smoothingRange-1) scaled by step/smoothingRange
	accelSpan := step * float64(smoothingRange-1) / 2

	loLinear := lo + accelSpan
	hiLinear := hi - accelSpan

	nLinear := mathx.Rint((hiLinear - loLinear) / step)
	if nLinear < 0 {
		// acceleration and deceleration spans overlap; there is no linear
		// region at all
		nLinear = 0
	}

	// cumulative voltage at each smoothing step; curve[0] is always 0 so the
	// profile starts exactly on the bound
	curve := make([]float64, smoothingSteps)
	acc := 0.0
	for n := 1; n < smoothingRange; n++ {
		curve[n-1] = acc
		acc += float64(n) * step / float64(smoothingRange)
	}

	out := make([]float64, 0, 2*smoothingSteps+nLinear)
	for i := 0; i < smoothingSteps; i++ {
		out = append(out, lo+curve[i])
	}
	out = append(out, mathx.Linspace(loLinear, hiLinear, nLinear)...)
	for i := smoothingSteps - 1; i >= 0; i-- {
		out = append(out, hi-curve[i])
	}

	if len(out) == 0 {
		// fully degenerate (equal endpoints, no smoothing); the device still
		// needs a sample to settle on
		out = append(out, vEnd)
	}

	if vEnd < vStart {
		mathx.Reverse(out)
	}
	return out, nil
}

// Line embeds a profile into a 4-axis scan line.  Axes 0-2 are held at pos,
// axis 3 carries the profile.  The returned line is what a scanning device
// consumes for one sweep.
func Line(profile []float64, pos [4]float64) [][4]float64 {
	out := make([][4]float64, len(profile))
	for i, v := range profile {
		out[i] = [4]float64{pos[0], pos[1], pos[2], v}
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
