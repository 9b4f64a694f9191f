package scanner

import (
	"bufio"
	"net"
	"sync"
	"testing"
)

// fakeHead is an in-process scan head speaking the telegram protocol over TCP
type fakeHead struct {
	mu     sync.Mutex
	dials  int
	locked bool
	pos    [NAxes]float64
}

func (h *fakeHead) Dials() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials
}

func (h *fakeHead) handle(body []byte) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	resp := []byte{statusOK}
	switch body[0] {
	case cmdPositionRange:
		for i := 0; i < NAxes; i++ {
			resp = putFloats(resp, []float64{-10, 10})
		}
	case cmdPosition:
		resp = putFloats(resp, h.pos[:])
	case cmdLock:
		h.locked = true
	case cmdUnlock:
		h.locked = false
	case cmdLocked:
		b := byte(0)
		if h.locked {
			b = 1
		}
		resp = append(resp, b)
	}
	return resp
}

func serveFakeHead(t *testing.T, addr string) *fakeHead {
	t.Helper()
	h := &fakeHead{}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatal("could not listen, test aborted:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			h.mu.Lock()
			h.dials++
			h.mu.Unlock()
			go func(c net.Conn) {
				defer c.Close()
				rdr := bufio.NewReader(c)
				for {
					raw, err := rdr.ReadBytes(telEnd)
					if err != nil {
						return
					}
					body, err := decodeTelegram(raw[:len(raw)-1])
					if err != nil || len(body) == 0 {
						return
					}
					out := append(encodeTelegram(h.handle(body)), telEnd)
					if _, err := c.Write(out); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return h
}

func TestRemoteReusesPooledConnection(t *testing.T) {
	addr := "localhost:18770"
	head := serveFakeHead(t, addr)
	r := NewRemote(addr)
	if err := r.Open(); err != nil {
		t.Fatal("could not open remote:", err)
	}
	defer r.Disconnect()

	rng, err := r.PositionRange()
	if err != nil {
		t.Fatal(err)
	}
	if rng[NAxes-1] != [2]float64{-10, 10} {
		t.Errorf("expected scanned axis range [-10, 10], got %v", rng[NAxes-1])
	}
	if err := r.Lock(); err != nil {
		t.Fatal(err)
	}
	if !r.Locked() {
		t.Error("expected head to report locked after Lock")
	}
	if err := r.Unlock(); err != nil {
		t.Fatal(err)
	}
	if r.Locked() {
		t.Error("expected head to report unlocked after Unlock")
	}
	if head.Dials() != 1 {
		t.Errorf("expected one pooled connection for all transactions, dialed %d times", head.Dials())
	}
}
