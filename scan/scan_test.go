package scan_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/nasa-jpl/voltscan/scan"
	"github.com/nasa-jpl/voltscan/scanner"
)

// newFastController returns a controller over a fresh mock with speeds
// cranked up so sweeps are a few hundred samples instead of a few hundred
// thousand
func newFastController(t *testing.T) (*scan.Controller, *scanner.Mock) {
	t.Helper()
	m := scanner.NewMock()
	c, err := scan.NewController(m)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	c.SetClockFrequency(100)
	c.SetScanSpeed(1)
	c.SetGotoSpeed(1)
	return c, m
}

func TestCompletedSessionAlternatesUpward(t *testing.T) {
	c, m := newFastController(t)
	c.SetRepeats(3)

	type span struct{ first, last float64 }
	var lines []span
	m.OnScan = func(call int, line [][scanner.NAxes]float64) error {
		lines = append(lines, span{line[0][3], line[len(line)-1][3]})
		return nil
	}

	if err := c.StartScan(-1, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Wait(); err != nil {
		t.Fatal(err)
	}
	if st := c.State(); st != scan.Idle {
		t.Errorf("expected Idle after session, got %v", st)
	}
	if m.Locked() {
		t.Error("expected device lock released after session")
	}
	if got := c.Data().Filled(); got != 3 {
		t.Errorf("expected 3 populated rows, got %d", got)
	}

	// move-in, three sweeps, park
	if len(lines) != 5 {
		t.Fatalf("expected 5 device lines (move-in, 3 sweeps, park), got %d", len(lines))
	}
	sweeps := lines[1:4]
	wantUp := []bool{true, false, true}
	for i, s := range sweeps {
		up := s.last > s.first
		if up != wantUp[i] {
			t.Errorf("sweep %d: expected upward=%v, got first=%f last=%f", i, wantUp[i], s.first, s.last)
		}
		lo := math.Min(s.first, s.last)
		hi := math.Max(s.first, s.last)
		if lo != -1 || hi != 1 {
			t.Errorf("sweep %d: expected full range [-1,1], got [%f,%f]", i, lo, hi)
		}
	}
}

func TestZeroRepeatsParksAndReleases(t *testing.T) {
	c, m := newFastController(t)
	c.SetRepeats(0)
	if err := c.StartScan(-1, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := c.Data().Filled(); got != 0 {
		t.Errorf("expected no rows for zero repeats, got %d", got)
	}
	if m.Locked() {
		t.Error("expected device lock released")
	}
}

func TestStopDuringRepeat(t *testing.T) {
	c, m := newFastController(t)
	c.SetRepeats(10)
	var ctl *scan.Controller = c
	m.OnScan = func(call int, line [][scanner.NAxes]float64) error {
		// call 1 is the move-in; calls 2+ are sweeps.  Stop mid repeat 1.
		if call == 3 {
			ctl.Stop()
		}
		return nil
	}
	if err := c.StartScan(-1, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Wait(); err != nil {
		t.Fatal(err)
	}
	// the in-flight sweep completes; nothing beyond it starts
	if got := c.Data().Filled(); got != 2 {
		t.Errorf("expected rows 0 and 1 only after stop during repeat 1, got %d rows", got)
	}
	if st := c.State(); st != scan.Idle {
		t.Errorf("expected Idle after stop, got %v", st)
	}
	if m.Locked() {
		t.Error("expected device lock released after stop")
	}
}

func TestExecutionErrorCleansUp(t *testing.T) {
	c, m := newFastController(t)
	c.SetRepeats(5)
	boom := errors.New("boom")
	m.OnScan = func(call int, line [][scanner.NAxes]float64) error {
		if call == 3 { // the sweep for repeat 1
			return boom
		}
		return nil
	}
	if err := c.StartScan(-1, 1); err != nil {
		t.Fatal(err)
	}
	err := c.Wait()
	var execErr scan.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.Repeat != 1 {
		t.Errorf("expected failure on repeat 1, got %d", execErr.Repeat)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped device error, got %v", err)
	}
	if got := c.Data().Filled(); got != 1 {
		t.Errorf("expected only row 0 written, got %d rows", got)
	}
	if st := c.State(); st != scan.Idle {
		t.Errorf("expected Idle after execution error, got %v", st)
	}
	if m.Locked() {
		t.Error("expected device lock released after execution error")
	}
}

func TestGotoWhileScanningIsBusy(t *testing.T) {
	c, m := newFastController(t)
	c.SetRepeats(2)
	gate := make(chan struct{})
	entered := make(chan struct{}, 8)
	m.OnScan = func(call int, line [][scanner.NAxes]float64) error {
		entered <- struct{}{}
		<-gate
		return nil
	}
	if err := c.StartScan(-1, 1); err != nil {
		t.Fatal(err)
	}
	<-entered // a device call is in flight; the session holds the lock
	before := m.Scans()
	if err := c.GotoVoltage(0.5); err != scan.ErrBusy {
		t.Errorf("expected ErrBusy during a session, got %v", err)
	}
	if m.Scans() != before {
		t.Error("expected no device I/O from a rejected goto")
	}
	close(gate)
	if err := c.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestParksAtRangeMin(t *testing.T) {
	// termination always parks at the low end of the range, even when the
	// last sweep finished there already; this mirrors the behavior of the
	// acquisition code this replaces
	c, m := newFastController(t)
	c.SetRepeats(1) // single upward sweep, ends at range max
	if err := c.StartScan(-1, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Wait(); err != nil {
		t.Fatal(err)
	}
	pos, err := m.Position()
	if err != nil {
		t.Fatal(err)
	}
	if pos[3] != -1 {
		t.Errorf("expected output parked at range min -1, got %f", pos[3])
	}
}

func TestGotoVoltageMovesAndReleases(t *testing.T) {
	c, m := newFastController(t)
	if err := c.GotoVoltage(0.25); err != nil {
		t.Fatal(err)
	}
	v, err := c.CurrentVoltage()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0.25 {
		t.Errorf("expected output at 0.25 after goto, got %f", v)
	}
	if m.Locked() {
		t.Error("expected device lock released after goto")
	}
	if st := c.State(); st != scan.Idle {
		t.Errorf("expected Idle after goto, got %v", st)
	}
}

func TestStartValidation(t *testing.T) {
	c, _ := newFastController(t)
	if err := c.StartScan(1, -1); err != scan.ErrInvalidRange {
		t.Errorf("expected ErrInvalidRange for inverted range, got %v", err)
	}
	if err := c.StartScan(-100, 100); err != scan.ErrInvalidRange {
		t.Errorf("expected ErrInvalidRange outside device bounds, got %v", err)
	}
	if st := c.State(); st != scan.Idle {
		t.Errorf("expected validation failures to leave state Idle, got %v", st)
	}
}

func TestSettersRejectedWhileBusy(t *testing.T) {
	c, m := newFastController(t)
	c.SetRepeats(2)
	gate := make(chan struct{})
	entered := make(chan struct{}, 8)
	m.OnScan = func(call int, line [][scanner.NAxes]float64) error {
		entered <- struct{}{}
		<-gate
		return nil
	}
	if err := c.StartScan(-1, 1); err != nil {
		t.Fatal(err)
	}
	<-entered
	if err := c.SetClockFrequency(1000); err != scan.ErrBusy {
		t.Errorf("expected ErrBusy setting clock mid-session, got %v", err)
	}
	if err := c.SetRepeats(3); err != scan.ErrBusy {
		t.Errorf("expected ErrBusy setting repeats mid-session, got %v", err)
	}
	close(gate)
	if err := c.Wait(); err != nil {
		t.Fatal(err)
	}
	if err := c.SetClockFrequency(1000); err != nil {
		t.Errorf("expected setter to succeed once idle, got %v", err)
	}
}

func TestSetterValidation(t *testing.T) {
	c, _ := newFastController(t)
	if err := c.SetScanSpeed(0); err != scan.ErrNonPositive {
		t.Errorf("expected ErrNonPositive for zero speed, got %v", err)
	}
	if err := c.SetClockFrequency(-5); err != scan.ErrNonPositive {
		t.Errorf("expected ErrNonPositive for negative clock, got %v", err)
	}
	if err := c.SetSmoothingSteps(-1); err != scan.ErrNonPositive {
		t.Errorf("expected ErrNonPositive for negative smoothing, got %v", err)
	}
	if err := c.SetScanRange(2, 1); err != scan.ErrInvalidRange {
		t.Errorf("expected ErrInvalidRange for inverted default range, got %v", err)
	}
}

func TestSecondStartIsBusy(t *testing.T) {
	c, m := newFastController(t)
	c.SetRepeats(2)
	gate := make(chan struct{})
	entered := make(chan struct{}, 8)
	m.OnScan = func(call int, line [][scanner.NAxes]float64) error {
		entered <- struct{}{}
		<-gate
		return nil
	}
	if err := c.StartScan(-1, 1); err != nil {
		t.Fatal(err)
	}
	<-entered
	if err := c.StartScan(-1, 1); err != scan.ErrBusy {
		t.Errorf("expected ErrBusy for overlapping start, got %v", err)
	}
	close(gate)
	if err := c.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestStartWhileDeviceClaimedIsBusy(t *testing.T) {
	c, m := newFastController(t)
	c.SetRepeats(2)
	if err := c.StartScan(-1, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Wait(); err != nil {
		t.Fatal(err)
	}

	// another client holds the hardware lock; a retry condition, so the
	// rejection must leave the previous session's results untouched
	m.Lock()
	if err := c.StartScan(-1, 1); err != scan.ErrBusy {
		t.Fatalf("expected ErrBusy with the device claimed elsewhere, got %v", err)
	}
	if st := c.State(); st != scan.Idle {
		t.Errorf("expected Idle after rejected start, got %v", st)
	}
	if err := c.Err(); err != nil {
		t.Errorf("expected no session error recorded for a busy rejection, got %v", err)
	}
	if got := c.Data().Filled(); got != 2 {
		t.Errorf("expected previous session's data kept, got %d rows", got)
	}
	m.Unlock()
	if err := c.StartScan(-1, 1); err != nil {
		t.Fatalf("expected retry to succeed once released, got %v", err)
	}
	if err := c.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestCloseWaitsForInFlightGoto(t *testing.T) {
	c, m := newFastController(t)
	c.SetRepeats(1)
	// a completed session leaves behind an already closed done channel;
	// Close must not mistake it for the goto finishing
	if err := c.StartScan(-1, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Wait(); err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	entered := make(chan struct{}, 8)
	m.OnScan = func(call int, line [][scanner.NAxes]float64) error {
		entered <- struct{}{}
		<-gate
		return nil
	}
	gotoErr := make(chan error, 1)
	go func() { gotoErr <- c.GotoVoltage(0.5) }()
	<-entered // the goto is mid-move

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("expected Close to wait for the in-flight goto")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("expected Close to return once the goto finished")
	}
	if err := <-gotoErr; err != nil {
		t.Errorf("expected the goto to complete cleanly, got %v", err)
	}
	if st := c.State(); st != scan.Closed {
		t.Errorf("expected Closed after Close, got %v", st)
	}
	if m.Locked() {
		t.Error("expected device lock released by the finished goto")
	}
}

func TestWaitWithoutSession(t *testing.T) {
	c, _ := newFastController(t)
	if err := c.Wait(); err != nil {
		t.Errorf("expected nil from Wait with no session, got %v", err)
	}
}

func TestClosedControllerRejectsEverything(t *testing.T) {
	c, _ := newFastController(t)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.StartScan(-1, 1); err != scan.ErrClosed {
		t.Errorf("expected ErrClosed from StartScan, got %v", err)
	}
	if err := c.GotoVoltage(0); err != scan.ErrClosed {
		t.Errorf("expected ErrClosed from GotoVoltage, got %v", err)
	}
	if err := c.SetRepeats(1); err != scan.ErrClosed {
		t.Errorf("expected ErrClosed from a setter, got %v", err)
	}
}
