package scanner

import (
	"bytes"
	"testing"
)

func TestTelegramRoundTrip(t *testing.T) {
	body := []byte{cmdSetUpClock, 0x00, 0x02, 0x0D, 0x5E, 0xFF}
	enc := encodeTelegram(body)
	if enc[0] != telStart {
		t.Fatalf("expected telegram to begin with start byte, got %X", enc[0])
	}
	// framing bytes must not appear after stuffing
	for i, b := range enc[1:] {
		if b == telStart || b == telEnd {
			t.Fatalf("unstuffed framing byte %X at offset %d", b, i+1)
		}
	}
	dec, err := decodeTelegram(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, body) {
		t.Errorf("expected round-tripped body %X, got %X", body, dec)
	}
}

func TestTelegramCRCDetectsCorruption(t *testing.T) {
	enc := encodeTelegram([]byte{cmdPosition, 1, 2, 3})
	enc[1] ^= 0x01
	_, err := decodeTelegram(enc)
	if err == nil {
		t.Error("expected corrupted telegram to be rejected")
	}
}

func TestTelegramRejectsGarbage(t *testing.T) {
	_, err := decodeTelegram([]byte{0x55, 0x66})
	if err != ErrBadTelegram {
		t.Errorf("expected ErrBadTelegram, got %v", err)
	}
}

func TestFloatsRoundTrip(t *testing.T) {
	in := []float64{-10, 0, 1.5, 10}
	buf := putFloats(nil, in)
	out, err := getFloats(buf)
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("expected %f at position %d, got %f", in[i], i, out[i])
		}
	}
}
