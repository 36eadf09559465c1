// Command tcp-echo-client dials a tcp-echo-server, sends one ship carrying
// the -message text (a repeated flag keeps only the last value), prints the
// first reply it receives and exits, or gives up after five seconds,
// mirroring tcp-py/tests/client.py.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/startrek-go/startrek/codec/plain"
	"github.com/startrek-go/startrek/internal/dock"
	"github.com/startrek-go/startrek/internal/fsm"
	"github.com/startrek-go/startrek/internal/gate"
	"github.com/startrek-go/startrek/internal/hub"
	"github.com/startrek-go/startrek/internal/netkit"
	"github.com/startrek-go/startrek/internal/port"
)

func main() {
	var (
		addr    string
		message string
	)

	flag.StringVar(&addr, "addr", "127.0.0.1:9394", "server address")
	flag.StringVar(&message, "message", "Hello world!", "message body to send")
	flag.Parse()

	remote, err := parseAddr(addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tcp-echo-client:", err)
		os.Exit(2)
	}

	delegate := &clientDelegate{done: make(chan struct{}, 1)}

	g := gate.New(func(remote, local netkit.Address, conn *fsm.Connection, d port.Delegate) *port.Porter {
		return port.New(remote, local, conn, plain.New(), d, 0)
	}, delegate, gate.Options{Daemonic: true})

	h, err := hub.NewServerHub(hub.KindStream, hub.Options{})
	if err != nil {
		log.Fatalf("tcp-echo-client: %v", err)
	}

	g.SetHub(h)

	ch := netkit.NewActiveStreamChannel(netkit.StreamOptions{})
	if err := ch.Connect(remote); err != nil {
		log.Fatalf("tcp-echo-client: connect %s: %v", remote, err)
	}

	local := ch.LocalAddress()
	pair := netkit.Pair{Remote: remote, Local: local}

	h.PutChannel(pair, ch)
	h.Connect(pair)

	g.Start()
	defer g.Stop()

	g.SendShip(dock.NewDeparture(1, dock.PriorityNormal, [][]byte{[]byte(message)}, false, 0, 0), local, remote)

	select {
	case <-delegate.done:
	case <-time.After(5 * time.Second):
		log.Println("tcp-echo-client: timed out waiting for a reply")
	}
}

type clientDelegate struct {
	done chan struct{}
}

func (d *clientDelegate) GateStatusChanged(remote, local netkit.Address, previous, current port.Status) {
	log.Printf("tcp-echo-client: %s -> %s (%s -> %s)", remote, local, previous, current)
}

func (d *clientDelegate) GateReceived(arrival *dock.Arrival, source, destination netkit.Address) {
	fmt.Printf("%s\n", arrival.Body)

	select {
	case d.done <- struct{}{}:
	default:
	}
}

func (d *clientDelegate) GateSent(departure *dock.Departure) {}

func (d *clientDelegate) GateError(remote, local netkit.Address, err error) {
	log.Printf("tcp-echo-client: error %s -> %s: %v", remote, local, err)
}

func parseAddr(s string) (netkit.Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return netkit.Address{}, err
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return netkit.Address{}, err
	}

	return netkit.Address{IP: host, Port: port}, nil
}
