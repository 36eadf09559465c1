// Command tcp-echo-server runs a stream Gate that replies to every received
// ship with the literal text "%d# %d byte(s) received", reproducing
// tcp-py/tests/server.py's response convention so it can be driven by the
// same test scenarios.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/startrek-go/startrek/codec/plain"
	"github.com/startrek-go/startrek/internal/dock"
	"github.com/startrek-go/startrek/internal/echodemo"
	"github.com/startrek-go/startrek/internal/fsm"
	"github.com/startrek-go/startrek/internal/gate"
	"github.com/startrek-go/startrek/internal/hub"
	"github.com/startrek-go/startrek/internal/netkit"
	"github.com/startrek-go/startrek/internal/port"
)

func main() {
	var addr string

	flag.StringVar(&addr, "addr", ":9394", "listen address")
	flag.Parse()

	local, err := parseAddr(addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tcp-echo-server:", err)
		os.Exit(2)
	}

	delegate := &echoDelegate{}

	g := gate.New(echoFactory, delegate, gate.Options{Daemonic: true})
	delegate.gate = g

	h, err := hub.NewServerHub(hub.KindStream, hub.Options{})
	if err != nil {
		log.Fatalf("tcp-echo-server: %v", err)
	}

	g.SetHub(h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.BindStream(ctx, local, netkit.StreamOptions{}); err != nil {
		log.Fatalf("tcp-echo-server: bind %s: %v", local, err)
	}

	g.Start()
	defer g.Stop()

	log.Printf("tcp-echo-server: listening on %s", local)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func echoFactory(remote, local netkit.Address, conn *fsm.Connection, delegate port.Delegate) *port.Porter {
	return port.New(remote, local, conn, plain.New(), delegate, 0)
}

// echoDelegate counts the ships received per remote peer so the reply text
// matches the Python harness's per-connection counter semantics.
type echoDelegate struct {
	gate   *gate.Gate
	counts echodemo.Counters
}

func (d *echoDelegate) GateStatusChanged(remote, local netkit.Address, previous, current port.Status) {
	log.Printf("tcp-echo-server: %s -> %s (%s -> %s)", remote, local, previous, current)
}

func (d *echoDelegate) GateReceived(arrival *dock.Arrival, source, destination netkit.Address) {
	n := d.counts.Next(source)

	reply := fmt.Sprintf("%d# %d byte(s) received", n, len(arrival.Body))
	d.gate.SendShip(dock.NewDeparture(arrival.SN, dock.PriorityNormal, [][]byte{[]byte(reply)}, false, 0, 0), destination, source)
}

func (d *echoDelegate) GateSent(departure *dock.Departure) {}

func (d *echoDelegate) GateError(remote, local netkit.Address, err error) {
	log.Printf("tcp-echo-server: error %s -> %s: %v", remote, local, err)
}

func parseAddr(s string) (netkit.Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return netkit.Address{}, err
	}

	if host == "" {
		host = "0.0.0.0"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return netkit.Address{}, err
	}

	return netkit.Address{IP: host, Port: port}, nil
}
