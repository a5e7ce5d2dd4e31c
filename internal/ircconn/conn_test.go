package ircconn

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func pipeConns(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	c := Wrap(client, Options{
		Network:         "testnet",
		WriteTimeout:    time.Second,
		ReadIdleTimeout: time.Second,
		PingFreq:        50 * time.Millisecond,
		SendRatePerSec:  1000,
		SendBurst:       1000,
	}, nil)
	return c, server
}

func TestSendThenReadOnOtherEnd(t *testing.T) {
	c, server := pipeConns(t)
	defer c.Close()

	done := make(chan string, 1)
	go func() {
		buf := make([]byte, 128)
		n, _ := server.Read(buf)
		done <- string(buf[:n])
	}()

	c.Send("PING :abc")

	select {
	case got := <-done:
		if got != "PING :abc\r\n" {
			t.Fatalf("got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write")
	}
}

func TestReadLineStripsCRLF(t *testing.T) {
	c, server := pipeConns(t)
	defer c.Close()

	go server.Write([]byte("PRIVMSG #x :hi\r\n"))

	line, err := c.ReadLine()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if line != "PRIVMSG #x :hi" {
		t.Fatalf("got %q", line)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c, _ := pipeConns(t)
	if err := c.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got: %v", err)
	}
	if !c.Closed() {
		t.Fatal("expected Closed() true")
	}
}

func TestSendAfterCloseDoesNotPanic(t *testing.T) {
	c, _ := pipeConns(t)
	c.Close()
	c.Send("anything") // must not panic once the connection is closed
}

func TestPingSchedulerClosesOnIdleTimeout(t *testing.T) {
	c, server := pipeConns(t)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	pings := 0
	c.PingScheduler(ctx, func() { pings++ })

	if !c.Closed() {
		t.Fatal("expected connection closed after idle timeout")
	}
	if pings == 0 {
		t.Fatal("expected at least one ping to have fired before the idle close")
	}
}

func TestReconnectorStopsOnSuccess(t *testing.T) {
	calls := 0
	Reconnector(context.Background(), nil, func(ctx context.Context) error {
		calls++
		return nil
	})
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func TestReconnectorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan struct{})
	go func() {
		Reconnector(ctx, nil, func(ctx context.Context) error {
			calls++
			if calls == 1 {
				cancel()
			}
			return errors.New("boom")
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("reconnector did not stop after context cancellation")
	}
	if calls == 0 {
		t.Fatal("expected at least one attempt")
	}
}
