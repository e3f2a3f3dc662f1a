package domain

import "net"

// FilterDecision is the verdict the source-address filter returns for
// one connection attempt.
type FilterDecision int

const (
	FilterAllow FilterDecision = iota
	FilterDeny
)

func (d FilterDecision) String() string {
	if d == FilterDeny {
		return "deny"
	}
	return "allow"
}

// FilterStats mirrors the counters the admin surface exposes for the
// blacklist filter.
type FilterStats struct {
	TotalChecked int64
	Allowed      int64
	Denied       int64
	EntryCount   int
}

// AddressFilter is the blacklist contract adapters implement: a set of
// literal addresses and CIDR ranges, checked on every accepted connection
// before it reaches the router.
type AddressFilter interface {
	Allow(addr net.IP) bool
	Add(entry string) error
	Remove(entry string) error
	Snapshot() []string
	Stats() FilterStats
}
