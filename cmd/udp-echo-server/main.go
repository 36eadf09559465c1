// Command udp-echo-server runs a packet Gate over one shared UDP socket,
// replying to every received ship with "%d# %d byte(s) received", the same
// convention udp-py/tests/server.py uses. CollapseLocal is enabled since
// every sender is reached through the same bound local socket.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/startrek-go/startrek/codec/packet"
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

	flag.StringVar(&addr, "addr", ":9395", "listen address")
	flag.Parse()

	local, err := parseAddr(addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "udp-echo-server:", err)
		os.Exit(2)
	}

	delegate := &echoDelegate{}

	g := gate.New(echoFactory, delegate, gate.Options{Daemonic: false})
	delegate.gate = g

	h, err := hub.NewServerHub(hub.KindPacket, hub.Options{CollapseLocal: true})
	if err != nil {
		log.Fatalf("udp-echo-server: %v", err)
	}

	g.SetHub(h)

	bound, err := h.BindPacket(local)
	if err != nil {
		log.Fatalf("udp-echo-server: bind %s: %v", local, err)
	}

	local = bound

	g.Start()
	defer g.Stop()

	log.Printf("udp-echo-server: listening on %s", local)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func echoFactory(remote, local netkit.Address, conn *fsm.Connection, delegate port.Delegate) *port.Porter {
	return port.New(remote, local, conn, packet.New(), delegate, 0)
}

type echoDelegate struct {
	gate   *gate.Gate
	counts echodemo.Counters
}

func (d *echoDelegate) GateStatusChanged(remote, local netkit.Address, previous, current port.Status) {
	log.Printf("udp-echo-server: %s -> %s (%s -> %s)", remote, local, previous, current)
}

func (d *echoDelegate) GateReceived(arrival *dock.Arrival, source, destination netkit.Address) {
	n := d.counts.Next(source)

	reply := fmt.Sprintf("%d# %d byte(s) received", n, len(arrival.Body))
	d.gate.SendShip(dock.NewDeparture(arrival.SN, dock.PriorityNormal, [][]byte{[]byte(reply)}, false, 0, 0), destination, source)
}

func (d *echoDelegate) GateSent(departure *dock.Departure) {}

func (d *echoDelegate) GateError(remote, local netkit.Address, err error) {
	log.Printf("udp-echo-server: error %s -> %s: %v", remote, local, err)
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
