package netkit

import (
	"testing"
	"time"
)

func TestStreamChannelEcho(t *testing.T) {
	server := NewActiveStreamChannel(StreamOptions{})
	if err := server.Bind(Address{IP: "127.0.0.1", Port: 0}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer server.Close()

	ln := server.Listener()
	if ln == nil {
		t.Fatal("expected listener after Bind")
	}

	addr := addressOf(ln.Addr())

	accepted := make(chan *StreamChannel, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		accepted <- NewStreamChannel(conn, StreamOptions{})
	}()

	client := NewActiveStreamChannel(StreamOptions{})
	if err := client.Connect(addr); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	var serverSide *StreamChannel

	select {
	case serverSide = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accept")
	}
	defer serverSide.Close()

	if !client.IsAlive() || !serverSide.IsAlive() {
		t.Fatalf("expected both ends ALIVE, client=%s server=%s", client.State(), serverSide.State())
	}

	if _, err := client.Write([]byte("hello"), Address{}); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(time.Second)

	for time.Now().Before(deadline) {
		data, _, err := serverSide.Read(1024)
		if err != nil {
			t.Fatalf("read: %v", err)
		}

		if data != nil {
			if string(data) != "hello" {
				t.Fatalf("expected hello, got %q", data)
			}

			return
		}
	}

	t.Fatal("timed out waiting for data")
}

func TestPacketChannelRequiresBindBeforeRead(t *testing.T) {
	c := NewPacketChannel()

	_, _, err := c.Read(1024)
	if err == nil {
		t.Fatal("expected error reading from unbound packet channel")
	}
}

func TestPacketChannelSendRecv(t *testing.T) {
	server := NewPacketChannel()
	if err := server.Bind(Address{IP: "127.0.0.1", Port: 0}); err != nil {
		t.Fatalf("bind server: %v", err)
	}
	defer server.Close()

	client := NewPacketChannel()
	if err := client.Bind(Address{IP: "127.0.0.1", Port: 0}); err != nil {
		t.Fatalf("bind client: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("ping"), server.LocalAddress()); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(time.Second)

	for time.Now().Before(deadline) {
		data, from, err := server.Read(1024)
		if err != nil {
			t.Fatalf("read: %v", err)
		}

		if data != nil {
			if string(data) != "ping" {
				t.Fatalf("expected ping, got %q", data)
			}

			if from.Port != client.LocalAddress().Port {
				t.Fatalf("expected sender port %d, got %d", client.LocalAddress().Port, from.Port)
			}

			return
		}
	}

	t.Fatal("timed out waiting for datagram")
}
