package scanner

import (
	"context"
	"math/rand"
	"sync"

	"golang.org/x/time/rate"
)

// Mock is an in-memory VoltageScanner used for development and tests.
//
// Counts returned from ScanLine are synthesized by CountFunc; the default is
// a Lorentzian line centered in the axis range with a little shot noise, which
// makes scan data look like a real resonance when plotted.
//
// If Realtime is true, ScanLine paces itself at the configured clock
// frequency the way hardware would; tests leave it false and sweeps complete
// immediately.
type Mock struct {
	mu sync.Mutex

	// Realtime paces ScanLine at the clock frequency when true
	Realtime bool

	// OnScan, if non-nil, is called at the top of every ScanLine with the
	// 1-based call number.  A non-nil return is surfaced as a hardware
	// execution error and the line is not output.  Used for fault injection.
	OnScan func(call int, line [][NAxes]float64) error

	// CountFunc maps the scanned axis voltage to a measured count
	CountFunc func(v float64) float64

	rng        [NAxes][2]float64
	pos        [NAxes]float64
	locked     bool
	clockFreq  float64
	clockSet   bool
	channelSet bool
	limiter    *rate.Limiter
	scans      int
}

// NewMock returns a Mock with every axis spanning -10 to +10 V, parked at 0
func NewMock() *Mock {
	m := &Mock{}
	for i := 0; i < NAxes; i++ {
		m.rng[i] = [2]float64{-10, 10}
	}
	center := 0.
	m.CountFunc = func(v float64) float64 {
		// Lorentzian, FWHM 1V, 10k counts at peak, ~1% noise
		gamma := 0.5
		l := 1e4 * gamma * gamma / ((v-center)*(v-center) + gamma*gamma)
		return l + rand.Float64()*100
	}
	return m
}

// PositionRange returns the axis bounds
func (m *Mock) PositionRange() ([NAxes][2]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng, nil
}

// Position returns the current outputs
func (m *Mock) Position() ([NAxes]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos, nil
}

// SetUpClock configures the step clock
func (m *Mock) SetUpClock(frequency float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if frequency <= 0 {
		return ErrClockNotSetUp
	}
	m.clockFreq = frequency
	m.limiter = rate.NewLimiter(rate.Limit(frequency), 1)
	m.clockSet = true
	return nil
}

// SetUpChannel configures the output channel
func (m *Mock) SetUpChannel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.clockSet {
		return ErrClockNotSetUp
	}
	m.channelSet = true
	return nil
}

// Lock claims the device.  Lock never blocks; see Locked.
func (m *Mock) Lock() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = true
	return nil
}

// Unlock releases the device
func (m *Mock) Unlock() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = false
	return nil
}

// Locked reports whether the device is claimed
func (m *Mock) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

// Scans returns the number of ScanLine calls made so far
func (m *Mock) Scans() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scans
}

// ScanLine steps the outputs through line and synthesizes counts
func (m *Mock) ScanLine(line [][NAxes]float64) ([]float64, error) {
	if len(line) == 0 {
		return nil, ErrEmptyLine
	}
	m.mu.Lock()
	if !m.clockSet {
		m.mu.Unlock()
		return nil, ErrClockNotSetUp
	}
	if !m.channelSet {
		m.mu.Unlock()
		return nil, ErrChannelNotSetUp
	}
	m.scans++
	call := m.scans
	hook := m.OnScan
	realtime := m.Realtime
	limiter := m.limiter
	countFn := m.CountFunc
	m.mu.Unlock()

	if hook != nil {
		if err := hook(call, line); err != nil {
			return nil, err
		}
	}

	counts := make([]float64, len(line))
	for i, pt := range line {
		if realtime {
			limiter.Wait(context.Background())
		}
		m.mu.Lock()
		m.pos = pt
		m.mu.Unlock()
		counts[i] = countFn(pt[3])
	}
	return counts, nil
}

// Close releases the output channel
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channelSet = false
	return nil
}

// CloseClock releases the step clock
func (m *Mock) CloseClock() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clockSet = false
	return nil
}

var _ VoltageScanner = (*Mock)(nil)
