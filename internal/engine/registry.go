package engine

import (
	"fmt"
	"sort"

	"tdlsctl/internal/model"
)

// registry owns every peer record, keyed by address. Presence in the map is
// the sole authority for "is this address tracked".
type registry struct {
	peers     map[model.MAC]*peer
	connPeers int
}

func newRegistry() *registry {
	return &registry{peers: make(map[model.MAC]*peer)}
}

func (r *registry) find(addr model.MAC) *peer {
	return r.peers[addr]
}

func (r *registry) count() int {
	return len(r.peers)
}

// insert registers the address for traffic accounting and creates its
// record. The driver may hold stale state for the address from a previous
// abnormal termination, so it is unregistered first. On registration failure
// no record is created; on any later failure the registration is rolled
// back.
func (r *registry) insert(d Driver, addr model.MAC) (*peer, error) {
	_ = d.SetTrafficMonitor(addr, false)
	if err := d.SetTrafficMonitor(addr, true); err != nil {
		// Roll back whatever partial state the enable may have left.
		_ = d.SetTrafficMonitor(addr, false)
		return nil, fmt.Errorf("register traffic monitor for %s: %w", addr, err)
	}

	p := &peer{addr: addr}
	r.peers[addr] = p
	return p, nil
}

// remove destroys the record and unregisters traffic accounting.
// Unregistration is best-effort.
func (r *registry) remove(d Driver, addr model.MAC) {
	if _, ok := r.peers[addr]; !ok {
		return
	}
	_ = d.SetTrafficMonitor(addr, false)
	delete(r.peers, addr)
}

// addresses returns a snapshot of the tracked addresses in stable order.
// Sweeps iterate the snapshot and re-resolve each address so records removed
// by reentrant facade callbacks are skipped, not dereferenced.
func (r *registry) addresses() []model.MAC {
	addrs := make([]model.MAC, 0, len(r.peers))
	for addr := range r.peers {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].String() < addrs[j].String()
	})
	return addrs
}
