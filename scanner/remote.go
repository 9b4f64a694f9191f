package scanner

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"

	"github.com/nasa-jpl/voltscan/comm"
)

// Remote is a VoltageScanner attached over the network (TCP) or RS232.
// It speaks the telegram protocol in this package; see telegram.go for the
// framing.  Remote is not concurrent safe; the scan logic serializes access
// to it, which matches the one-command-in-flight nature of the hardware.
//
// Connections are drawn from a pool per transaction and reclaimed after
// they sit idle, so a long-parked server does not pin the head's socket.
type Remote struct {
	comm.RemoteDevice

	// Serial, if non-nil, attaches over RS232 instead of TCP
	Serial *serial.Config

	pool *comm.Pool
}

// NewRemote returns a new Remote scanner client.  Open must be called before use.
func NewRemote(addr string) *Remote {
	return &Remote{RemoteDevice: comm.NewRemoteDevice(addr, false)}
}

// Open builds the connection pool and verifies the scan head is reachable
func (r *Remote) Open() error {
	var maker comm.CreationFunc
	if r.Serial != nil {
		maker = comm.SerialConnMaker(r.Serial)
	} else {
		maker = comm.BackingOffTCPConnMaker(r.Addr, 3*time.Second)
	}
	r.pool = comm.NewPool(1, time.Minute, maker)
	conn, err := r.pool.Get()
	if err != nil {
		return errors.Wrap(err, "scanner: could not connect to scan head")
	}
	r.pool.Put(conn)
	return nil
}

// Disconnect frees any pooled connection to the scan head.  This is distinct
// from Close, which releases the output channel on the device itself.
func (r *Remote) Disconnect() error {
	if r.pool == nil || r.pool.Size() == 0 {
		return nil
	}
	conn, err := r.pool.Get()
	if err != nil {
		return err
	}
	r.pool.Destroy(conn)
	return nil
}

// txn performs one request/response transaction on a pooled connection and
// returns the response payload after status checking.  Any error discards
// the connection; the next transaction dials fresh.
func (r *Remote) txn(body []byte) (payload []byte, err error) {
	conn, err := r.pool.Get()
	if err != nil {
		return nil, errors.Wrap(err, "scanner: could not connect to scan head")
	}
	defer func() { r.pool.ReturnWithError(conn, err) }()
	r.Conn = conn.(io.ReadWriteCloser)
	resp, err := r.SendRecv(encodeTelegram(body))
	if err != nil {
		err = errors.Wrap(err, "scanner: transaction failed")
		return nil, err
	}
	decoded, err := decodeTelegram(resp)
	if err != nil {
		return nil, err
	}
	if len(decoded) < 1 {
		err = ErrBadTelegram
		return nil, err
	}
	if err = statusToErr(decoded[0]); err != nil {
		return nil, err
	}
	return decoded[1:], nil
}

// PositionRange returns the axis bounds
func (r *Remote) PositionRange() ([NAxes][2]float64, error) {
	var out [NAxes][2]float64
	payload, err := r.txn([]byte{cmdPositionRange})
	if err != nil {
		return out, err
	}
	fs, err := getFloats(payload)
	if err != nil {
		return out, err
	}
	if len(fs) != NAxes*2 {
		return out, ErrBadTelegram
	}
	for i := 0; i < NAxes; i++ {
		out[i] = [2]float64{fs[2*i], fs[2*i+1]}
	}
	return out, nil
}

// Position returns the current outputs
func (r *Remote) Position() ([NAxes]float64, error) {
	var out [NAxes]float64
	payload, err := r.txn([]byte{cmdPosition})
	if err != nil {
		return out, err
	}
	fs, err := getFloats(payload)
	if err != nil {
		return out, err
	}
	if len(fs) != NAxes {
		return out, ErrBadTelegram
	}
	copy(out[:], fs)
	return out, nil
}

// SetUpClock configures the step clock
func (r *Remote) SetUpClock(frequency float64) error {
	body := putFloats([]byte{cmdSetUpClock}, []float64{frequency})
	_, err := r.txn(body)
	return err
}

// SetUpChannel configures the output channel and counter
func (r *Remote) SetUpChannel() error {
	_, err := r.txn([]byte{cmdSetUpChannel})
	return err
}

// Lock claims exclusive access to the device
func (r *Remote) Lock() error {
	_, err := r.txn([]byte{cmdLock})
	return err
}

// Unlock releases exclusive access to the device
func (r *Remote) Unlock() error {
	_, err := r.txn([]byte{cmdUnlock})
	return err
}

// Locked reports whether the device is claimed.  Communication failures
// report as locked; a device we cannot talk to is not available for use.
func (r *Remote) Locked() bool {
	payload, err := r.txn([]byte{cmdLocked})
	if err != nil || len(payload) != 1 {
		return true
	}
	return payload[0] != 0
}

// ScanLine steps the outputs through line and returns the measured counts
func (r *Remote) ScanLine(line [][NAxes]float64) ([]float64, error) {
	if len(line) == 0 {
		return nil, ErrEmptyLine
	}
	body := make([]byte, 0, 1+4+len(line)*NAxes*8)
	body = append(body, cmdScanLine)
	var scratch [4]byte
	dataOrder.PutUint32(scratch[:], uint32(len(line)))
	body = append(body, scratch[:]...)
	for _, pt := range line {
		body = putFloats(body, pt[:])
	}
	payload, err := r.txn(body)
	if err != nil {
		return nil, err
	}
	counts, err := getFloats(payload)
	if err != nil {
		return nil, err
	}
	if len(counts) != len(line) {
		return nil, ErrBadTelegram
	}
	return counts, nil
}

// Close releases the output channel on the device
func (r *Remote) Close() error {
	_, err := r.txn([]byte{cmdClose})
	return err
}

// CloseClock releases the step clock on the device
func (r *Remote) CloseClock() error {
	_, err := r.txn([]byte{cmdCloseClock})
	return err
}

var _ VoltageScanner = (*Remote)(nil)
