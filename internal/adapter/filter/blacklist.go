// Package filter implements the source-address admission gate (§4.J):
// a set of blacklisted addresses and CIDR ranges, checked once per
// accepted connection before it reaches the router.
package filter

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/core/ports"
)

// BlacklistFilter is a reader-writer-locked set of literal IPs and CIDR
// ranges. Reads dominate (one lookup per accepted connection); writes
// only happen via admin config reload.
type BlacklistFilter struct {
	mu      sync.RWMutex
	exact   map[string]struct{}
	cidrs   []*net.IPNet
	entries []string

	checked atomic.Int64
	allowed atomic.Int64
	denied  atomic.Int64
}

// NewBlacklistFilter creates an empty blacklist. Entries are added via
// Add, typically from server{security{blacklist{...}}} at startup.
func NewBlacklistFilter() ports.Filter {
	return &BlacklistFilter{
		exact: make(map[string]struct{}),
	}
}

// Add registers an entry, either a literal IP ("10.0.0.5") or a CIDR
// range ("10.0.0.0/24").
func (f *BlacklistFilter) Add(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return fmt.Errorf("filter: empty blacklist entry")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.Contains(entry, "/") {
		_, ipnet, err := net.ParseCIDR(entry)
		if err != nil {
			return fmt.Errorf("filter: invalid CIDR %q: %w", entry, err)
		}
		f.cidrs = append(f.cidrs, ipnet)
		f.entries = append(f.entries, entry)
		return nil
	}

	if ip := net.ParseIP(entry); ip == nil {
		return fmt.Errorf("filter: invalid address %q", entry)
	}
	if _, exists := f.exact[entry]; !exists {
		f.exact[entry] = struct{}{}
		f.entries = append(f.entries, entry)
	}
	return nil
}

// Remove drops a literal entry, or a CIDR range whose canonical form
// (net.IPNet.String, e.g. "10.0.0.0/24") equals entry. It returns an
// error when nothing matches.
func (f *BlacklistFilter) Remove(entry string) error {
	entry = strings.TrimSpace(entry)

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.exact[entry]; exists {
		delete(f.exact, entry)
		f.entries = removeString(f.entries, entry)
		return nil
	}

	for i, c := range f.cidrs {
		if c.String() == entry {
			f.cidrs = append(f.cidrs[:i], f.cidrs[i+1:]...)
			f.entries = removeString(f.entries, entry)
			return nil
		}
	}

	return fmt.Errorf("filter: entry %q not found", entry)
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, e := range s {
		if e != v {
			out = append(out, e)
		}
	}
	return out
}

// Allow returns false iff addr matches a literal entry or falls inside
// a blacklisted CIDR range.
func (f *BlacklistFilter) Allow(addr net.IP) bool {
	f.checked.Add(1)

	f.mu.RLock()
	defer f.mu.RUnlock()

	if _, denied := f.exact[addr.String()]; denied {
		f.denied.Add(1)
		return false
	}
	for _, c := range f.cidrs {
		if c.Contains(addr) {
			f.denied.Add(1)
			return false
		}
	}

	f.allowed.Add(1)
	return true
}

// Snapshot returns the current entry list in insertion order.
func (f *BlacklistFilter) Snapshot() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]string, len(f.entries))
	copy(out, f.entries)
	return out
}

// Stats returns the admission counters exposed on the admin surface.
func (f *BlacklistFilter) Stats() domain.FilterStats {
	f.mu.RLock()
	count := len(f.entries)
	f.mu.RUnlock()

	return domain.FilterStats{
		TotalChecked: f.checked.Load(),
		Allowed:      f.allowed.Load(),
		Denied:       f.denied.Load(),
		EntryCount:   count,
	}
}
