package transportquic

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/startrek-go/startrek/internal/netkit"
)

func freeUDPAddr(t *testing.T) string {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve udp port: %v", err)
	}
	addr := conn.LocalAddr().String()
	_ = conn.Close()

	return addr
}

func testTLSConfig(t *testing.T) *tls.Config {
	t.Helper()

	cfg, err := GenerateSelfSignedTLS([]string{"127.0.0.1"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateSelfSignedTLS: %v", err)
	}

	cfg.NextProtos = []string{"startrek-quic-test"}

	return cfg
}

func TestChannelRoundTripsOverOneStream(t *testing.T) {
	addr := freeUDPAddr(t)
	serverTLS := testTLSConfig(t)

	received := make(chan *Channel, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := Serve(ctx, addr, Options{TLSConfig: serverTLS}, func(ch *Channel) {
		received <- ch
	}); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	clientTLS := &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"startrek-quic-test"}}

	client, err := NewActiveChannel(Options{TLSConfig: clientTLS})
	if err != nil {
		t.Fatalf("NewActiveChannel: %v", err)
	}

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	if err := client.Connect(netkit.Address{IP: host, Port: port}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, err := client.Write([]byte("ping"), netkit.Address{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var server *Channel

	select {
	case server = <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server to accept a stream")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, _, err := server.Read(64)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}

		if string(data) == "ping" {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("expected to read \"ping\" from the accepted stream")
}
