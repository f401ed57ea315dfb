package tcp

import (
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/mdavidsaver/pscdrv/pkg/block"
	"github.com/mdavidsaver/pscdrv/pkg/frame"
	"github.com/mdavidsaver/pscdrv/pkg/pscconfig"
)

func listenLoopback(t *testing.T) (net.Listener, string, uint16) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	return ln, addr.IP.String(), uint16(addr.Port)
}

func mustFrame(msgid uint16, body []byte) []byte {
	var hdr [frame.HeaderSize]byte
	frame.PutHeader(hdr[:], frame.Header{MsgID: msgid, BodyLen: uint32(len(body))})
	return append(hdr[:], body...)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestClientConnectReceivesFramedMessage(t *testing.T) {
	pscconfig.ResetDefaults()
	ln, host, port := listenLoopback(t)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	c := New(strconv.Itoa(int(port)), host, port, 0)
	defer c.Stop()

	recvCh := make(chan []byte, 1)
	blk := c.GetRecv(7)
	blk.Listeners.Add(func(b *block.Block) {
		recvCh <- append([]byte(nil), b.Data.Bytes()...)
	})

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var srv net.Conn
	select {
	case srv = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted")
	}
	defer srv.Close()

	if _, err := srv.Write(mustFrame(7, []byte("hello"))); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case got := <-recvCh:
		if string(got) != "hello" {
			t.Fatalf("received %q, want %q", got, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never fired")
	}

	waitUntil(t, time.Second, c.IsConnected)
}

func TestClientSplitHeaderAcrossReads(t *testing.T) {
	pscconfig.ResetDefaults()
	ln, host, port := listenLoopback(t)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	c := New(strconv.Itoa(int(port))+"-split", host, port, 0)
	defer c.Stop()

	recvCh := make(chan []byte, 1)
	blk := c.GetRecv(3)
	blk.Listeners.Add(func(b *block.Block) {
		recvCh <- append([]byte(nil), b.Data.Bytes()...)
	})

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var srv net.Conn
	select {
	case srv = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted")
	}
	defer srv.Close()

	frame := mustFrame(3, []byte("split-body"))
	// Write the frame in 3-byte chunks across several small writes to force
	// the decoder to accumulate across multiple socket reads.
	for i := 0; i < len(frame); i += 3 {
		end := i + 3
		if end > len(frame) {
			end = len(frame)
		}
		if _, err := srv.Write(frame[i:end]); err != nil {
			t.Fatalf("server write chunk: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case got := <-recvCh:
		if string(got) != "split-body" {
			t.Fatalf("received %q, want %q", got, "split-body")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never fired for split frame")
	}
}

func TestClientFramingErrorTriggersReconnect(t *testing.T) {
	pscconfig.ResetDefaults()
	ln, host, port := listenLoopback(t)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	c := New(strconv.Itoa(int(port))+"-bad", host, port, 0)
	defer c.Stop()

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var srv net.Conn
	select {
	case srv = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted")
	}
	defer srv.Close()

	// Wrong magic bytes.
	srv.Write([]byte{'X', 'Y', 0, 1, 0, 0, 0, 0})

	waitUntil(t, 2*time.Second, func() bool {
		return c.LastMessage() == "Framing error!"
	})
}

func TestClientQueueSendBackpressure(t *testing.T) {
	pscconfig.ResetDefaults()
	pscconfig.SetMaxSendBuffer(frame.HeaderSize + 4) // room for exactly one tiny frame
	defer pscconfig.ResetDefaults()

	ln, host, port := listenLoopback(t)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	c := New(strconv.Itoa(int(port))+"-bp", host, port, 0)
	defer c.Stop()

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted")
	}
	waitUntil(t, time.Second, c.IsConnected)

	if err := c.QueueSend(1, []byte("ab")); err != nil {
		t.Fatalf("first QueueSend: %v", err)
	}
	if err := c.QueueSend(2, []byte("cd")); err != ErrSendBufferFull {
		t.Fatalf("second QueueSend error = %v, want ErrSendBufferFull", err)
	}
}

func TestClientQueueSendRejectsDoubleQueue(t *testing.T) {
	pscconfig.ResetDefaults()
	ln, host, port := listenLoopback(t)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			go discardReads(conn)
		}
	}()

	c := New(strconv.Itoa(int(port))+"-dup", host, port, 0)
	defer c.Stop()
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitUntil(t, 2*time.Second, c.IsConnected)

	if err := c.QueueSend(1, []byte("x")); err != nil {
		t.Fatalf("first QueueSend: %v", err)
	}
	if err := c.QueueSend(1, []byte("y")); err != ErrAlreadyQueued {
		t.Fatalf("second QueueSend on same block = %v, want ErrAlreadyQueued", err)
	}
	if err := c.FlushSend(); err != nil {
		t.Fatalf("FlushSend: %v", err)
	}
	if err := c.QueueSend(1, []byte("z")); err != nil {
		t.Fatalf("QueueSend after flush should succeed again: %v", err)
	}
}

func TestClientQueueSendBeforeConnectStagesUntilFlushAfterConnect(t *testing.T) {
	pscconfig.ResetDefaults()
	ln, host, port := listenLoopback(t)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	c := New(strconv.Itoa(int(port))+"-preconn", host, port, 0)
	defer c.Stop()

	if err := c.QueueSend(1, []byte("staged")); err != nil {
		t.Fatalf("QueueSend before Connect: %v", err)
	}
	if !c.GetSend(1).Queued {
		t.Fatal("send block should be marked Queued while staged")
	}

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted")
	}
	waitUntil(t, time.Second, c.IsConnected)

	if err := c.FlushSend(); err != nil {
		t.Fatalf("FlushSend: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	raw := make([]byte, frame.HeaderSize+len("staged"))
	if _, err := io.ReadFull(conn, raw); err != nil {
		t.Fatalf("reading staged frame: %v", err)
	}
	hdr, err := frame.ReadHeader(raw)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if hdr.MsgID != 1 || string(raw[frame.HeaderSize:]) != "staged" {
		t.Fatalf("got msgid=%d body=%q", hdr.MsgID, raw[frame.HeaderSize:])
	}
}

func discardReads(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}
