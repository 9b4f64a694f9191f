// Package scanner describes the analog scanning device the scan logic drives
// and provides mock and network-attached implementations of it.
//
// The device model is a 4-axis analog output stage with a synchronized
// counter: writing a scan line steps the outputs through a sample sequence at
// the configured clock rate while the counter records one measurement per
// output step.
package scanner

import "errors"

// NAxes is the number of output axes on the scanning stage.  Axes 0-2 are
// spatial, axis 3 is the scanned (voltage controlled) channel.
const NAxes = 4

var (
	// ErrClockNotSetUp is generated when a scan line is written before the step clock is configured
	ErrClockNotSetUp = errors.New("scanner: step clock not set up")

	// ErrChannelNotSetUp is generated when a scan line is written before the output channel is configured
	ErrChannelNotSetUp = errors.New("scanner: output channel not set up")

	// ErrEmptyLine is generated when a zero-length scan line is written
	ErrEmptyLine = errors.New("scanner: scan line must contain at least one sample")
)

// VoltageScanner is the complete device contract used by the scan logic.
//
// Lock and Unlock manipulate the device's exclusive-access flag; they never
// block.  Locked reports the flag.  The device does not enforce the lock
// itself; holders of the contract check Locked before use, the same protocol
// the HTTP locker middleware uses.
type VoltageScanner interface {
	// PositionRange returns the (min, max) bound of each axis
	PositionRange() ([NAxes][2]float64, error)

	// Position returns the current output value of each axis
	Position() ([NAxes]float64, error)

	// SetUpClock configures the step clock that paces scan line output
	SetUpClock(frequency float64) error

	// SetUpChannel configures the output channel and counter for scanning
	SetUpChannel() error

	// Lock claims exclusive access to the device
	Lock() error

	// Unlock releases exclusive access to the device
	Unlock() error

	// Locked reports whether the device is claimed
	Locked() bool

	// ScanLine steps the outputs through the line and returns one measured
	// count per sample.  The call blocks for the duration of the sweep.
	ScanLine(line [][NAxes]float64) ([]float64, error)

	// Close releases the output channel
	Close() error

	// CloseClock releases the step clock
	CloseClock() error
}
