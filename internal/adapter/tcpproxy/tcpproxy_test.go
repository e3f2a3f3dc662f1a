package tcpproxy

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer starts a TCP listener that echoes whatever it reads back to
// the caller, closing the connection once the client half-closes.
func echoServer(t *testing.T) (host string, port int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func TestProxy_Handle_EchoesBytes(t *testing.T) {
	host, port := echoServer(t)

	proxy := New(Target{Host: host, Port: port}, nil)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan error, 1)
	go func() {
		done <- proxy.Handle(context.Background(), serverConn)
	}()

	_, err := clientConn.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := io.ReadFull(clientConn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	clientConn.Close()
	<-done
}

func TestProxy_Handle_IdleTimeoutClosesConnection(t *testing.T) {
	host, port := echoServer(t)

	proxy := New(Target{Host: host, Port: port, IdleTimeout: 50 * time.Millisecond}, nil)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan error, 1)
	go func() {
		done <- proxy.Handle(context.Background(), serverConn)
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("idle timeout did not close the pump")
	}
}

func TestProxy_Handle_DialFailure(t *testing.T) {
	proxy := New(Target{Host: "127.0.0.1", Port: 1}, nil)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	err := proxy.Handle(context.Background(), serverConn)
	assert.Error(t, err)
}
