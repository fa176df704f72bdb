package comm_test

import (
	"bufio"
	"bytes"
	"net"
	"testing"

	"github.com/hector9000/hector/comm"
)

// tcpEchoServer answers each line with the line upper-cased
func tcpEchoServer(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
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
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadBytes('\n')
					if err != nil {
						return
					}
					conn.Write(bytes.ToUpper(line))
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func TestSendRecvOverTCP(t *testing.T) {
	addr := tcpEchoServer(t)
	rd := comm.NewRemoteDevice(addr, false)
	if err := rd.Open(); err != nil {
		t.Fatal(err)
	}
	defer rd.Close()
	for _, msg := range []string{"dr 4", "lt"} {
		resp, err := rd.SendRecv([]byte(msg))
		if err != nil {
			t.Fatal(err)
		}
		expected := string(bytes.ToUpper([]byte(msg)))
		if string(resp) != expected {
			t.Errorf("expected %q got %q", expected, resp)
		}
	}
}

func TestSendWithoutConnection(t *testing.T) {
	rd := comm.NewRemoteDevice("nowhere", false)
	if _, err := rd.SendRecv([]byte("x")); err != comm.ErrNotConnected {
		t.Errorf("expected ErrNotConnected got %v", err)
	}
}

func TestRecvKeepsBufferedLines(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rd := &comm.RemoteDevice{Conn: client}
	go func() {
		r := bufio.NewReader(server)
		// both replies arrive in one write, after the first request
		r.ReadBytes('\n')
		server.Write([]byte("first\nsecond\r\n"))
		r.ReadBytes('\n')
	}()
	a, err := rd.SendRecv([]byte("one"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := rd.SendRecv([]byte("two"))
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != "first" || string(b) != "second" {
		t.Errorf("expected first, second got %q, %q", a, b)
	}
	if err := rd.Close(); err != nil {
		t.Error(err)
	}
}
