package fnirs

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hyperstudy/bridge/internal/device"
)

func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if err != nil {
						return
					}
					c.Write(buf[:n])
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestConnectSendReceiveRoundTrip(t *testing.T) {
	addr := startEchoServer(t)
	d := New("fnirs0", "fNIRS Unit", nil)
	if err := d.Configure(device.Config{Address: addr, TimeoutMs: 1000}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if d.GetStatus() != device.StatusConnected {
		t.Fatalf("expected connected status, got %s", d.GetStatus())
	}

	if err := d.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	reply, err := d.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(reply) != "hello" {
		t.Fatalf("expected echoed payload, got %q", reply)
	}

	if err := d.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if d.GetStatus() != device.StatusDisconnected {
		t.Fatalf("expected disconnected status, got %s", d.GetStatus())
	}
}

func TestConnectFailsOnRefusedAddress(t *testing.T) {
	d := New("fnirs0", "fNIRS Unit", nil)
	d.Configure(device.Config{Address: "127.0.0.1:1", TimeoutMs: 50})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := d.Connect(ctx); err == nil {
		t.Fatalf("expected connect to fail against a refused port")
	}
}
