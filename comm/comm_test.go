package comm_test

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/nasa-jpl/voltscan/comm"
)

// tcpEchoServer starts a loopback echo on addr and returns once it is listening
func tcpEchoServer(t *testing.T, addr string) {
	t.Helper()
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
			go func() { io.Copy(conn, conn) }()
		}
	}()
}

func TestSendRecvRoundTrip(t *testing.T) {
	addr := "localhost:18765"
	tcpEchoServer(t, addr)
	rd := comm.NewRemoteDevice(addr, false)
	err := rd.Open()
	if err != nil {
		t.Fatal("could not open connection:", err)
	}
	defer rd.Close()

	resp, err := rd.SendRecv([]byte("RD?"))
	if err != nil {
		t.Fatal("send/recv failed:", err)
	}
	if string(resp) != "RD?" {
		t.Errorf("expected echoed payload with terminator stripped, got %q", resp)
	}
}

func TestSendWithoutOpenErrors(t *testing.T) {
	rd := comm.NewRemoteDevice("localhost:1", false)
	err := rd.Send([]byte("hi"))
	if err != comm.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestPoolReusesConnections(t *testing.T) {
	addr := "localhost:18766"
	tcpEchoServer(t, addr)
	made := 0
	maker := func() (io.ReadWriteCloser, error) {
		made++
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(1, time.Second, maker)
	for i := 0; i < 3; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		pool.Put(conn)
	}
	if made != 1 {
		t.Errorf("expected a single underlying connection to be reused, made %d", made)
	}
	if pool.Active() != 0 {
		t.Errorf("expected no active leases after Put, got %d", pool.Active())
	}
}

func TestPoolReturnWithError(t *testing.T) {
	addr := "localhost:18767"
	tcpEchoServer(t, addr)
	made := 0
	maker := func() (io.ReadWriteCloser, error) {
		made++
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(1, time.Second, maker)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.ReturnWithError(conn, errors.New("io exploded"))
	if pool.Size() != 0 {
		t.Errorf("expected a bad connection to be destroyed, pool size %d", pool.Size())
	}
	conn, err = pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.ReturnWithError(conn, nil)
	if pool.Size() != 1 {
		t.Errorf("expected a good connection to be returned, pool size %d", pool.Size())
	}
	if made != 2 {
		t.Errorf("expected a redial after the destroy, made %d connections", made)
	}
}
