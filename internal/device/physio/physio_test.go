package physio

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/hyperstudy/bridge/internal/device"
)

func startFramedServer(t *testing.T, handler func(conn net.Conn, cmd, length uint32, payload []byte) bool) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			header := make([]byte, 8)
			if _, err := readFull(conn, header); err != nil {
				return
			}
			cmd := binary.LittleEndian.Uint32(header[0:4])
			length := binary.LittleEndian.Uint32(header[4:8])
			payload := make([]byte, length)
			if length > 0 {
				if _, err := readFull(conn, payload); err != nil {
					return
				}
			}
			if !handler(conn, cmd, length, payload) {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func dialDriver(t *testing.T, addr string) *Driver {
	t.Helper()
	d := New("physio0", "Physio Unit", nil)
	if err := d.Configure(device.Config{Address: addr, TimeoutMs: 1000}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return d
}

func TestStartAcquisitionSendsCorrectFrame(t *testing.T) {
	received := make(chan uint32, 1)
	addr := startFramedServer(t, func(conn net.Conn, cmd, length uint32, payload []byte) bool {
		received <- cmd
		return false
	})

	d := dialDriver(t, addr)
	defer d.Disconnect(context.Background())

	if err := d.StartAcquisition(context.Background()); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}

	select {
	case cmd := <-received:
		if cmd != CmdStartAcquisition {
			t.Fatalf("expected cmd %d, got %d", CmdStartAcquisition, cmd)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for frame")
	}
}

func buildDataFrame(ts uint64, samples [][3]uint16) []byte {
	payload := make([]byte, 0, 12+5*len(samples))
	tsBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(tsBuf, ts)
	payload = append(payload, tsBuf...)
	nBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(nBuf, uint32(len(samples)))
	payload = append(payload, nBuf...)
	for _, s := range samples {
		payload = append(payload, byte(s[0]))
		rawBuf := make([]byte, 2)
		binary.LittleEndian.PutUint16(rawBuf, s[1])
		payload = append(payload, rawBuf...)
		payload = append(payload, byte(s[2]))
	}
	return payload
}

func TestReceiveDecodesDataFrameWithScaling(t *testing.T) {
	frame := buildDataFrame(12345, [][3]uint16{{2, 1000, 0}})
	addr := startFramedServer(t, func(conn net.Conn, cmd, length uint32, payload []byte) bool {
		header := make([]byte, 8)
		binary.LittleEndian.PutUint32(header[0:4], CmdDataFrame)
		binary.LittleEndian.PutUint32(header[4:8], uint32(len(frame)))
		conn.Write(header)
		conn.Write(frame)
		return false
	})

	d := dialDriver(t, addr)
	defer d.Disconnect(context.Background())
	d.SetChannelScale(2, ChannelScale{Scale: 0.01, Offset: 5})

	d.Send(context.Background(), append(make([]byte, 4), 0...))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := d.Receive(ctx); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	samples := d.DrainBuffer()
	if len(samples) != 1 {
		t.Fatalf("expected 1 decoded sample, got %d", len(samples))
	}
	want := 0.01*1000 + 5
	if samples[0].Value != want {
		t.Fatalf("expected scaled value %v, got %v", want, samples[0].Value)
	}
	if samples[0].Channel != 2 {
		t.Fatalf("expected channel 2, got %d", samples[0].Channel)
	}
}

func TestReceiveRejectsOversizedFrame(t *testing.T) {
	addr := startFramedServer(t, func(conn net.Conn, cmd, length uint32, payload []byte) bool {
		header := make([]byte, 8)
		binary.LittleEndian.PutUint32(header[0:4], CmdDataFrame)
		binary.LittleEndian.PutUint32(header[4:8], maxFrameLength+1)
		conn.Write(header)
		return false
	})

	d := dialDriver(t, addr)
	defer d.Disconnect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := d.Receive(ctx); err == nil {
		t.Fatalf("expected oversized frame to be rejected")
	}
}

func TestBufferDrainsOldestOnOverflow(t *testing.T) {
	d := New("physio0", "Physio Unit", nil)
	d.bufCap = 2

	first := buildDataFrame(1, [][3]uint16{{0, 1, 0}})
	second := buildDataFrame(2, [][3]uint16{{0, 2, 0}, {0, 3, 0}})

	if err := d.decodeDataFrame(first); err != nil {
		t.Fatalf("decodeDataFrame first: %v", err)
	}
	if err := d.decodeDataFrame(second); err != nil {
		t.Fatalf("decodeDataFrame second: %v", err)
	}

	samples := d.DrainBuffer()
	if len(samples) != 2 {
		t.Fatalf("expected buffer capped at 2, got %d", len(samples))
	}
	if samples[0].Value != 2 || samples[1].Value != 3 {
		t.Fatalf("expected oldest sample dropped, got %+v", samples)
	}
}

func TestConfigureRequiresAddress(t *testing.T) {
	d := New("physio0", "Physio Unit", nil)
	if err := d.Configure(device.Config{}); err == nil {
		t.Fatalf("expected missing address to be rejected")
	}
}
