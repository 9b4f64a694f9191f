package util_test

import (
	"testing"
	"time"

	"github.com/nasa-jpl/voltscan/util"
)

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped == input {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped == input {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampPassThrough(t *testing.T) {
	if out := util.Clamp(5, 0, 10); out != 5 {
		t.Errorf("expected in-range value to pass through, got %f", out)
	}
}

func TestLimiter(t *testing.T) {
	l := util.Limiter{Min: -10, Max: 10}
	if !l.Check(0) {
		t.Error("expected 0 to be inside [-10,10]")
	}
	if l.Check(10.5) {
		t.Error("expected 10.5 to be outside [-10,10]")
	}
	if !l.Check(-10) {
		t.Error("expected boundary value to be inside the limit")
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}
