// Package scan contains the voltage sweep session logic: a non-blocking,
// resumable state machine that drives one analog output through repeated
// direction-alternating sweeps while a counter samples in lockstep, and the
// repeat-indexed result matrix the sweeps fill in.
//
// The session never blocks its caller for the duration of a multi-repeat
// scan; StartScan returns after scheduling the first sweep and each sweep
// posts its continuation to an internal work queue, so stop requests and
// status queries interleave at sweep boundaries.
package scan

import (
	"fmt"
	"log"
	"sync"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/voltscan/ramp"
	"github.com/nasa-jpl/voltscan/scanner"
	"github.com/nasa-jpl/voltscan/util"
)

// State describes what the session is doing
type State int

// states a scan session may be in
const (
	// Idle - no session in progress, configuration is mutable
	Idle State = iota

	// Initializing - locking the hardware and configuring the clock
	Initializing

	// SweepingUp - the next sweep runs from range min to range max
	SweepingUp

	// SweepingDown - the next sweep runs from range max to range min
	SweepingDown

	// Finalizing - parking the output and releasing the hardware
	Finalizing

	// Closed - the controller has been torn down and cannot be reused
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Initializing:
		return "Initializing"
	case SweepingUp:
		return "SweepingUp"
	case SweepingDown:
		return "SweepingDown"
	case Finalizing:
		return "Finalizing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// the scanned output is the last axis; the others are held at their
// position from session start
const scanAxis = scanner.NAxes - 1

var (
	// ErrBusy is generated when an operation conflicts with one already
	// holding the controller or the device
	ErrBusy = errors.New("scan: controller or device busy")

	// ErrInvalidRange is generated when a requested scan range is inverted
	// or outside the device's output range
	ErrInvalidRange = errors.New("scan: invalid scan range")

	// ErrNonPositive is generated when a speed, frequency, or repeat count
	// that must be positive is not
	ErrNonPositive = errors.New("scan: value must be positive")

	// ErrClosed is generated when the controller is used after Close
	ErrClosed = errors.New("scan: controller is closed")
)

// SetupError indicates the hardware could not be locked or configured.
// The session returns to idle and no lock is left held.
type SetupError struct {
	Err error
}

func (e SetupError) Error() string {
	return "scan: hardware setup failed: " + e.Err.Error()
}

// Unwrap returns the underlying device error
func (e SetupError) Unwrap() error { return e.Err }

// ExecutionError indicates the hardware failed mid-sweep.  By the time the
// error is observable the session has finalized: the output is parked, the
// locks are released, and the state is idle.
type ExecutionError struct {
	Repeat int
	Err    error
}

func (e ExecutionError) Error() string {
	return fmt.Sprintf("scan: sweep %d failed: %v", e.Repeat, e.Err)
}

// Unwrap returns the underlying device error
func (e ExecutionError) Unwrap() error { return e.Err }

// default session parameters
const (
	// DefaultClockFrequency is the step clock rate in Hz
	DefaultClockFrequency = 500

	// DefaultScanSpeed is the in-sweep ramp speed in volts per second
	DefaultScanSpeed = 0.01

	// DefaultGotoSpeed is the point-to-point ramp speed in volts per second
	DefaultGotoSpeed = 0.01

	// DefaultSmoothingSteps is the acceleration step count for goto ramps
	DefaultSmoothingSteps = 10

	// DefaultRepeats is the number of sweeps per session
	DefaultRepeats = 10
)

// Controller runs scan sessions against a voltage scanner.  One mutex
// guards the state, the stop flag, and the dual (controller + device) lock
// hand-off; it is never held across a device call, so Stop and the status
// accessors stay responsive during long sweeps.
type Controller struct {
	dev scanner.VoltageScanner

	mu       sync.Mutex
	state    State
	stop     bool
	err      error
	done     chan struct{}
	gotoDone chan struct{}

	steps chan struct{}
	quit  chan struct{}

	matrix *Matrix
	repeat int
	origin [scanner.NAxes]float64

	scanRange [2]float64
	limiter   util.Limiter

	clockFreq      float64
	scanSpeed      float64
	gotoSpeed      float64
	smoothingSteps int
	repeats        int
}

// NewController returns a controller wrapping dev with the default session
// parameters and a default scan range of one tenth of the device's output
// range.  It snapshots the device's axis bounds; the device must be
// reachable.
func NewController(dev scanner.VoltageScanner) (*Controller, error) {
	ranges, err := dev.PositionRange()
	if err != nil {
		return nil, errors.Wrap(err, "scan: could not query device range")
	}
	bound := ranges[scanAxis]
	c := &Controller{
		dev:            dev,
		steps:          make(chan struct{}, 1),
		quit:           make(chan struct{}),
		limiter:        util.Limiter{Min: bound[0], Max: bound[1]},
		scanRange:      [2]float64{bound[0] / 10, bound[1] / 10},
		clockFreq:      DefaultClockFrequency,
		scanSpeed:      DefaultScanSpeed,
		gotoSpeed:      DefaultGotoSpeed,
		smoothingSteps: DefaultSmoothingSteps,
		repeats:        DefaultRepeats,
	}
	go c.run()
	return c, nil
}

// run is the work queue pump; each sweep posts its continuation here
// instead of recursing, so a long repeat count cannot grow the stack and
// other entry points interleave between sweeps
func (c *Controller) run() {
	for {
		select {
		case <-c.quit:
			return
		case <-c.steps:
			c.nextLine()
		}
	}
}

// StartScan begins a session sweeping between vMin and vMax.  It returns
// after the hardware is locked and configured and the first sweep is
// scheduled; use Wait or State to follow progress.  A conflicting session
// or goto returns ErrBusy.
func (c *Controller) StartScan(vMin, vMax float64) error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Idle {
		c.mu.Unlock()
		return ErrBusy
	}
	if vMin > vMax || !c.limiter.Check(vMin) || !c.limiter.Check(vMax) {
		c.mu.Unlock()
		return ErrInvalidRange
	}
	c.state = Initializing
	c.scanRange = [2]float64{vMin, vMax}
	c.repeat = 0
	c.stop = false
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	pos, err := c.dev.Position()
	if err != nil {
		return c.failSetup(done, errors.Wrap(err, "could not read position"))
	}

	if err := c.acquire(); err != nil {
		if err == ErrBusy {
			// device claimed by another client: a retry condition, not a
			// fault, so the last session's error and data stay put
			c.mu.Lock()
			c.state = Idle
			c.mu.Unlock()
			close(done)
			return err
		}
		return c.failSetup(done, err)
	}

	// only now does the new session exist; a rejected start leaves the
	// previous session's results readable
	c.mu.Lock()
	c.origin = pos
	c.err = nil
	c.matrix = NewMatrix(c.repeats)
	c.state = SweepingUp
	c.mu.Unlock()
	c.post()
	return nil
}

// acquire claims the device and configures its clock and output channel,
// releasing the device again on any failure
func (c *Controller) acquire() error {
	if c.dev.Locked() {
		return ErrBusy
	}
	if err := c.dev.Lock(); err != nil {
		return errors.Wrap(err, "could not lock device")
	}
	if err := c.dev.SetUpClock(c.ClockFrequency()); err != nil {
		c.release()
		return errors.Wrap(err, "could not set up clock")
	}
	if err := c.dev.SetUpChannel(); err != nil {
		c.release()
		return errors.Wrap(err, "could not set up channel")
	}
	return nil
}

// release tears down the device's channel and clock and drops its lock.
// Teardown failures are logged; the unlock is always attempted.
func (c *Controller) release() {
	if err := c.dev.Close(); err != nil {
		log.Println("scan: error closing output channel:", err)
	}
	if err := c.dev.CloseClock(); err != nil {
		log.Println("scan: error closing clock:", err)
	}
	if err := c.dev.Unlock(); err != nil {
		log.Println("scan: error unlocking device:", err)
	}
}

// failSetup records a setup failure, returns the session to idle, and
// reports the error to the StartScan caller
func (c *Controller) failSetup(done chan struct{}, err error) error {
	serr := SetupError{Err: err}
	c.mu.Lock()
	c.state = Idle
	c.err = serr
	c.mu.Unlock()
	close(done)
	return serr
}

// post schedules the next sweep on the work queue
func (c *Controller) post() {
	select {
	case c.steps <- struct{}{}:
	case <-c.quit:
	}
}

// nextLine performs exactly one sweep, or finalizes the session if the stop
// flag is set or the repeats are exhausted
func (c *Controller) nextLine() {
	c.mu.Lock()
	stop := c.stop
	repeat := c.repeat
	repeats := c.repeats
	upwards := c.state == SweepingUp
	lo, hi := c.scanRange[0], c.scanRange[1]
	speed := c.scanSpeed
	clock := c.clockFreq
	origin := c.origin
	matrix := c.matrix
	c.mu.Unlock()

	if stop || repeat == repeats {
		c.finalize(nil)
		return
	}

	if repeat == 0 {
		// park at the low end of the range before the first sweep so
		// sweep zero covers the full span
		if err := c.rampTo(lo); err != nil {
			c.finalize(ExecutionError{Repeat: repeat, Err: err})
			return
		}
	}

	// in-sweep ramps are pure linear traverses; the goto smoothing only
	// applies to point-to-point moves
	start, end := lo, hi
	if !upwards {
		start, end = hi, lo
	}
	profile, err := ramp.Generate(start, end, speed, clock, 0)
	if err != nil {
		c.finalize(ExecutionError{Repeat: repeat, Err: err})
		return
	}
	counts, err := c.dev.ScanLine(ramp.Line(profile, origin))
	if err != nil {
		c.finalize(ExecutionError{Repeat: repeat, Err: err})
		return
	}
	if err := matrix.SetRow(repeat, counts); err != nil {
		c.finalize(ExecutionError{Repeat: repeat, Err: err})
		return
	}

	c.mu.Lock()
	c.repeat++
	if upwards {
		c.state = SweepingDown
	} else {
		c.state = SweepingUp
	}
	c.mu.Unlock()
	c.post()
}

// rampTo moves the output from its current voltage to v with a smoothed
// ramp at the goto speed.  The device must already be set up.
func (c *Controller) rampTo(v float64) error {
	pos, err := c.dev.Position()
	if err != nil {
		return errors.Wrap(err, "could not read position")
	}
	c.mu.Lock()
	speed := c.gotoSpeed
	clock := c.clockFreq
	smoothing := c.smoothingSteps
	c.mu.Unlock()
	profile, err := ramp.Generate(pos[scanAxis], v, speed, clock, smoothing)
	if err != nil {
		return err
	}
	_, err = c.dev.ScanLine(ramp.Line(profile, pos))
	return err
}

// finalize parks the output at the low end of the scan range, releases the
// device, clears the stop flag, and returns the session to idle.  It always
// runs to completion; park or teardown failures are logged, never left as a
// held lock.  Parking goes to range min regardless of the direction the
// scan stopped in.
func (c *Controller) finalize(execErr error) {
	c.mu.Lock()
	c.state = Finalizing
	lo := c.scanRange[0]
	done := c.done
	c.mu.Unlock()

	if err := c.rampTo(lo); err != nil {
		log.Println("scan: error parking output:", err)
	}
	c.release()

	c.mu.Lock()
	c.stop = false
	c.state = Idle
	if execErr != nil {
		c.err = execErr
	}
	c.mu.Unlock()
	close(done)
}

// Stop requests the session end at the next sweep boundary.  It never
// blocks and performs no hardware I/O; the in-flight sweep runs to
// completion before the stop is honored.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state != Idle && c.state != Closed {
		c.stop = true
	}
	c.mu.Unlock()
}

// GotoVoltage moves the output to v with a smoothed ramp at the goto
// speed.  It is synchronous and mutually exclusive with a scan session;
// if the controller or the device is busy it returns ErrBusy without any
// hardware I/O.
func (c *Controller) GotoVoltage(v float64) error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Idle {
		c.mu.Unlock()
		return ErrBusy
	}
	if !c.limiter.Check(v) {
		c.mu.Unlock()
		return ErrInvalidRange
	}
	c.state = Initializing
	gd := make(chan struct{})
	c.gotoDone = gd
	c.mu.Unlock()
	// Close waits on gotoDone, so it must be signalled on every path out
	defer func() {
		c.mu.Lock()
		c.gotoDone = nil
		c.mu.Unlock()
		close(gd)
	}()

	if err := c.acquire(); err != nil {
		c.mu.Lock()
		c.state = Idle
		c.mu.Unlock()
		if err == ErrBusy {
			return err
		}
		return SetupError{Err: err}
	}

	rampErr := c.rampTo(v)
	c.release()

	c.mu.Lock()
	c.state = Idle
	c.mu.Unlock()
	if rampErr != nil {
		return ExecutionError{Err: rampErr}
	}
	return nil
}

// Wait blocks until the current session finalizes and returns its error,
// if any.  If no session is in progress it returns the last session's
// error immediately.
func (c *Controller) Wait() error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	return c.Err()
}

// Err returns the error from the most recent session, or nil
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// State returns what the session is currently doing
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Data returns the result matrix of the most recent session to reach its
// sweeps, or nil if none has.  Its contents are only complete once the
// session has returned to idle.
func (c *Controller) Data() *Matrix {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matrix
}

// CurrentVoltage reads the scanned axis's output voltage from the device
func (c *Controller) CurrentVoltage() (float64, error) {
	pos, err := c.dev.Position()
	if err != nil {
		return 0, err
	}
	return pos[scanAxis], nil
}

// Close waits for any active session or goto to finish, tears down the
// work queue, and marks the controller unusable.  The underlying device is
// not closed; it belongs to the caller.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	if c.state != Idle {
		// a goto has its own completion channel; the session done channel
		// may be nil (no session ever ran) or already closed (a prior one)
		c.stop = true
		done := c.done
		gd := c.gotoDone
		c.mu.Unlock()
		if gd != nil {
			<-gd
		} else {
			<-done
		}
		c.mu.Lock()
	}
	c.state = Closed
	close(c.quit)
	c.mu.Unlock()
	return nil
}

// idleSet runs f under the mutex if the session is idle, otherwise
// returns ErrBusy; configuration is immutable while a session runs
func (c *Controller) idleSet(f func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return ErrClosed
	}
	if c.state != Idle {
		return ErrBusy
	}
	f()
	return nil
}

// SetClockFrequency sets the step clock rate in Hz
func (c *Controller) SetClockFrequency(f float64) error {
	if f <= 0 {
		return ErrNonPositive
	}
	return c.idleSet(func() { c.clockFreq = f })
}

// ClockFrequency returns the step clock rate in Hz
func (c *Controller) ClockFrequency() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clockFreq
}

// SetScanSpeed sets the in-sweep ramp speed in volts per second
func (c *Controller) SetScanSpeed(s float64) error {
	if s <= 0 {
		return ErrNonPositive
	}
	return c.idleSet(func() { c.scanSpeed = s })
}

// ScanSpeed returns the in-sweep ramp speed in volts per second
func (c *Controller) ScanSpeed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanSpeed
}

// SetGotoSpeed sets the point-to-point ramp speed in volts per second
func (c *Controller) SetGotoSpeed(s float64) error {
	if s <= 0 {
		return ErrNonPositive
	}
	return c.idleSet(func() { c.gotoSpeed = s })
}

// GotoSpeed returns the point-to-point ramp speed in volts per second
func (c *Controller) GotoSpeed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gotoSpeed
}

// SetSmoothingSteps sets the acceleration step count for goto ramps
func (c *Controller) SetSmoothingSteps(n int) error {
	if n < 0 {
		return ErrNonPositive
	}
	return c.idleSet(func() { c.smoothingSteps = n })
}

// SmoothingSteps returns the acceleration step count for goto ramps
func (c *Controller) SmoothingSteps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.smoothingSteps
}

// SetRepeats sets the number of sweeps per session
func (c *Controller) SetRepeats(n int) error {
	if n < 0 {
		return ErrNonPositive
	}
	return c.idleSet(func() { c.repeats = n })
}

// Repeats returns the number of sweeps per session
func (c *Controller) Repeats() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repeats
}

// SetScanRange sets the default sweep bounds used when StartScan is driven
// without an explicit range (e.g. over HTTP)
func (c *Controller) SetScanRange(vMin, vMax float64) error {
	if vMin > vMax || !c.limiter.Check(vMin) || !c.limiter.Check(vMax) {
		return ErrInvalidRange
	}
	return c.idleSet(func() { c.scanRange = [2]float64{vMin, vMax} })
}

// ScanRange returns the sweep bounds
func (c *Controller) ScanRange() [2]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanRange
}

// PositionRange returns the device's output bounds on the scanned axis
func (c *Controller) PositionRange() [2]float64 {
	return [2]float64{c.limiter.Min, c.limiter.Max}
}
