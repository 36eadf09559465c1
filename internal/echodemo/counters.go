// Package echodemo holds the small pieces shared by the cmd/*-echo-*
// demo binaries: a per-remote receive counter, so the "%d# %d byte(s)
// received" reply text matches tcp-py/tests/server.py and
// udp-py/tests/server.py's per-connection counter convention.
package echodemo

import (
	"sync"

	"github.com/startrek-go/startrek/internal/netkit"
)

// Counters tracks how many ships have been received from each remote
// address, starting at 0 for the first one.
type Counters struct {
	mu   sync.Mutex
	seen map[netkit.Address]int
}

// Next returns the count for remote as it stood before this call (0 for
// the first ship), then increments it.
func (c *Counters) Next(remote netkit.Address) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seen == nil {
		c.seen = make(map[netkit.Address]int)
	}

	n := c.seen[remote]
	c.seen[remote] = n + 1

	return n
}
