package netkit

import "fmt"

// Address is an (ip, port) pair, compared by value. Both IPv4 and IPv6
// string forms are accepted; equality is bytewise on the string form, as
// spec'd — no canonicalization is performed.
type Address struct {
	IP   string
	Port int
}

// String renders the address as "ip:port", matching net.JoinHostPort.
func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}

// IsZero reports whether a is the zero Address, used throughout the hub to
// represent an unbound/unknown local or remote side.
func (a Address) IsZero() bool {
	return a.IP == "" && a.Port == 0
}

// Pair is the (remote, local) key the Hub uses for both its channel and
// connection registries.
type Pair struct {
	Remote Address
	Local  Address
}

func (p Pair) String() string {
	return fmt.Sprintf("remote=%s local=%s", p.Remote, p.Local)
}
