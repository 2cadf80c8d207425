package hwsync

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
)

// HostEntry is a hardware host table entry.
type HostEntry struct {
	Domain neigh.DomainID
	Addr   netip.Addr
	MAC    neigh.MAC
	Port   neigh.PortID
}

// HostEntryOf returns the host entry describing the given neighbour.
func HostEntryOf(entry neigh.Entry) HostEntry {
	return HostEntry{
		Domain: entry.Domain,
		Addr:   entry.Addr,
		MAC:    entry.MAC,
		Port:   entry.Port,
	}
}

// Key returns the key of this host entry.
func (m HostEntry) Key() neigh.Key {
	return neigh.Key{Domain: m.Domain, Addr: m.Addr}
}

func (m HostEntry) String() string {
	return fmt.Sprintf("vlan%d/%s -> %s port %d", m.Domain, m.Addr, m.MAC, m.Port)
}

// Programmer installs entries into the hardware host table.
//
// Calls may block. Both operations are expected to be idempotent.
type Programmer interface {
	ProgramHostEntry(ctx context.Context, entry HostEntry) error
	UnprogramHostEntry(ctx context.Context, entry HostEntry) error
}

// Op is a hardware operation.
type Op int

const (
	OpProgram Op = iota
	OpUnprogram
)

func (m Op) String() string {
	switch m {
	case OpProgram:
		return "program"
	case OpUnprogram:
		return "unprogram"
	default:
		return "unknown"
	}
}

// Request is a queued hardware operation.
type Request struct {
	Op    Op
	Entry HostEntry
	// Generation is the generation of the neighbour entry the request was
	// issued for.
	Generation uint64
}

// Completion is the outcome of a hardware operation.
type Completion struct {
	Request
	Err error
}
