package mesh

import (
	"sync"
	"time"

	"github.com/Thrinadh-25/MeshIt/pkg/protocol"
)

// Route is one routing-table entry: traffic for Destination leaves via
// NextHop, which is always a direct peer at the moment of lookup.
type Route struct {
	Destination string    `json:"destination"`
	NextHop     string    `json:"nextHop"`
	HopCount    int       `json:"hopCount"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Table is the best-known-route table. Direct peers always carry a
// hop-count-1 entry pointing at themselves; learned entries expire.
type Table struct {
	mu     sync.RWMutex
	routes map[string]Route
}

// NewTable creates an empty routing table.
func NewTable() *Table {
	return &Table{routes: make(map[string]Route)}
}

// SetDirect seeds or refreshes the hop-count-1 entry for a direct peer.
func (t *Table) SetDirect(fp string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[fp] = Route{Destination: fp, NextHop: fp, HopCount: 1, LastSeen: time.Now()}
}

// Remove drops the entry for fp.
func (t *Table) Remove(fp string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.routes, fp)
}

// Update records a learned route if it is strictly shorter than the current
// entry. Returns true when the table changed.
func (t *Table) Update(dest, nextHop string, hopCount int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.routes[dest]; ok && existing.HopCount <= hopCount {
		// Refresh liveness of the equal-or-better route we already hold.
		if existing.NextHop == nextHop {
			existing.LastSeen = time.Now()
			t.routes[dest] = existing
		}
		return false
	}
	t.routes[dest] = Route{Destination: dest, NextHop: nextHop, HopCount: hopCount, LastSeen: time.Now()}
	return true
}

// Lookup returns the entry for dest.
func (t *Table) Lookup(dest string) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[dest]
	return r, ok
}

// Snapshot returns a copy of every route for inspection.
func (t *Table) Snapshot() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	return out
}

// Expire removes non-direct entries not seen within protocol.RouteExpiry.
// isDirect guards the hop-count-1 entries owned by the peer set.
func (t *Table) Expire(isDirect func(fp string) bool) {
	cutoff := time.Now().Add(-protocol.RouteExpiry)
	t.mu.Lock()
	defer t.mu.Unlock()
	for dest, r := range t.routes {
		if !isDirect(dest) && r.LastSeen.Before(cutoff) {
			delete(t.routes, dest)
		}
	}
}
