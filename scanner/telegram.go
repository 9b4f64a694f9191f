package scanner

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/snksoft/crc"
)

// wire protocol for network-attached scan heads: a telegram is
// STX, byte-stuffed body, byte-stuffed CRC16 (XMODEM, over the raw body),
// CR.  The body of a request is a command byte followed by little-endian
// payload data; the body of a response is a status byte followed by payload.

const (
	// telStart is the start of telegram byte
	telStart = 0x02

	// telEnd is the end of telegram byte; it doubles as the comm layer's
	// receive terminator
	telEnd = 0x0D

	// specialCharFirstReplacement is the escape byte for stuffing
	specialCharFirstReplacement = 0x5E

	// specialCharShift is the amount special characters are shifted up by.
	// special characters max out at 0x5E, so we will never overflow
	specialCharShift = 0x40
)

// command bytes understood by the scan head
const (
	cmdPositionRange = 0x01
	cmdPosition      = 0x02
	cmdSetUpClock    = 0x03
	cmdSetUpChannel  = 0x04
	cmdLock          = 0x05
	cmdUnlock        = 0x06
	cmdLocked        = 0x07
	cmdScanLine      = 0x08
	cmdClose         = 0x09
	cmdCloseClock    = 0x0A
)

// response status bytes
const (
	statusOK = iota
	statusBusy
	statusClockFault
	statusChannelFault
	statusHardwareFault
)

var (
	// dataOrder is the byte order of telegram payloads
	dataOrder = binary.LittleEndian

	// specialChars is a byte slice of values that must be stuffed out of bodies
	specialChars = []byte{telStart, telEnd, specialCharFirstReplacement}

	crcTable = crc.NewTable(crc.XMODEM)

	// ErrBadTelegram is generated when a received telegram is malformed
	ErrBadTelegram = errors.New("scanner: malformed telegram")

	// ErrBadCRC is generated when a received telegram fails its checksum
	ErrBadCRC = errors.New("scanner: telegram CRC mismatch")
)

func sanitize(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if bytes.Contains(specialChars, []byte{b}) {
			out = append(out, specialCharFirstReplacement, b+specialCharShift)
		} else {
			out = append(out, b)
		}
	}
	return out
}

func reverseSanitize(data []byte) []byte {
	out := make([]byte, 0, len(data))
	subNext := false
	for _, b := range data {
		if b == specialCharFirstReplacement && !subNext {
			// substitution marker; shift the next byte back down
			subNext = true
			continue
		}
		if subNext {
			b -= specialCharShift
			subNext = false
		}
		out = append(out, b)
	}
	return out
}

// crcHelper computes the two-byte CRC value in a concurrent safe way and one line
func crcHelper(buf []byte) []byte {
	crcUint := crcTable.InitCrc()
	crcUint = crcTable.UpdateCrc(crcUint, buf)
	crcBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(crcBytes, crcTable.CRC16(crcUint))
	return crcBytes
}

// encodeTelegram wraps a raw body in the framing: start byte, stuffed body,
// stuffed CRC.  The end byte is appended by the comm layer as its terminator.
func encodeTelegram(body []byte) []byte {
	out := []byte{telStart}
	out = append(out, sanitize(body)...)
	out = append(out, sanitize(crcHelper(body))...)
	return out
}

// decodeTelegram unwraps framing from a received telegram (end byte already
// stripped by the comm layer) and verifies the checksum, returning the raw body
func decodeTelegram(raw []byte) ([]byte, error) {
	if len(raw) < 3 || raw[0] != telStart {
		return nil, ErrBadTelegram
	}
	unstuffed := reverseSanitize(raw[1:])
	if len(unstuffed) < 3 {
		return nil, ErrBadTelegram
	}
	body := unstuffed[:len(unstuffed)-2]
	if !bytes.Equal(unstuffed[len(unstuffed)-2:], crcHelper(body)) {
		return nil, ErrBadCRC
	}
	return body, nil
}

func statusToErr(status byte) error {
	switch status {
	case statusOK:
		return nil
	case statusBusy:
		return errors.New("scanner: device busy")
	case statusClockFault:
		return ErrClockNotSetUp
	case statusChannelFault:
		return ErrChannelNotSetUp
	case statusHardwareFault:
		return errors.New("scanner: hardware fault")
	default:
		return fmt.Errorf("scanner: unknown status byte %d", status)
	}
}

func putFloats(buf []byte, fs []float64) []byte {
	for _, f := range fs {
		var scratch [8]byte
		dataOrder.PutUint64(scratch[:], math.Float64bits(f))
		buf = append(buf, scratch[:]...)
	}
	return buf
}

func getFloats(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, ErrBadTelegram
	}
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(dataOrder.Uint64(buf[i*8:]))
	}
	return out, nil
}
