package switchstate

import (
	"cmp"
	"fmt"
	"iter"

	"github.com/benbjohnson/immutable"

	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
)

type domainComparer struct{}

func (domainComparer) Compare(a, b neigh.DomainID) int {
	return cmp.Compare(a, b)
}

// Domain is a broadcast domain together with its neighbour tables.
type Domain struct {
	Interface Interface

	arp *neigh.Table
	ndp *neigh.Table
}

// NewDomain creates a domain with empty neighbour tables.
func NewDomain(intf Interface) *Domain {
	return &Domain{
		Interface: intf,
		arp:       neigh.NewTable(intf.VLAN, neigh.FamilyIPv4),
		ndp:       neigh.NewTable(intf.VLAN, neigh.FamilyIPv6),
	}
}

// ID returns the domain identifier.
func (m *Domain) ID() neigh.DomainID {
	return m.Interface.VLAN
}

// Table returns the neighbour table of the given family.
func (m *Domain) Table(family neigh.Family) *neigh.Table {
	switch family {
	case neigh.FamilyIPv4:
		return m.arp
	case neigh.FamilyIPv6:
		return m.ndp
	default:
		panic(fmt.Sprintf("switchstate: unsupported family %d", family))
	}
}

// WithTable returns a copy of this domain with the table of the same family
// replaced.
func (m *Domain) WithTable(table *neigh.Table) *Domain {
	if table.Domain() != m.ID() {
		panic(fmt.Sprintf("switchstate: table of vlan%d cannot be stored in vlan%d", table.Domain(), m.ID()))
	}

	next := *m
	switch table.Family() {
	case neigh.FamilyIPv4:
		next.arp = table
	case neigh.FamilyIPv6:
		next.ndp = table
	default:
		panic(fmt.Sprintf("switchstate: unsupported family %d", table.Family()))
	}
	return &next
}

// WithInterface returns a copy of this domain with the interface
// description replaced. Tables are kept.
func (m *Domain) WithInterface(intf Interface) *Domain {
	if intf.VLAN != m.ID() {
		panic(fmt.Sprintf("switchstate: interface of vlan%d cannot describe vlan%d", intf.VLAN, m.ID()))
	}

	next := *m
	next.Interface = intf
	return &next
}

// State is an immutable snapshot of the whole switch.
type State struct {
	version uint64
	// epoch changes whenever the set of domains changes.
	epoch   uint64
	domains *immutable.SortedMap[neigh.DomainID, *Domain]
}

// Empty returns a switch state without domains.
func Empty() *State {
	return &State{
		domains: immutable.NewSortedMap[neigh.DomainID, *Domain](domainComparer{}),
	}
}

// Version returns the publication version of this state.
func (m *State) Version() uint64 {
	return m.version
}

// Domain returns the domain with the given identifier.
func (m *State) Domain(id neigh.DomainID) (*Domain, bool) {
	return m.domains.Get(id)
}

// Len returns the number of domains.
func (m *State) Len() int {
	return m.domains.Len()
}

// Domains returns domains ordered by identifier.
func (m *State) Domains() iter.Seq[*Domain] {
	return func(yield func(*Domain) bool) {
		it := m.domains.Iterator()
		for !it.Done() {
			_, domain, _ := it.Next()
			if !yield(domain) {
				return
			}
		}
	}
}

// WithDomain returns a successor state containing the given domain.
func (m *State) WithDomain(domain *Domain) *State {
	next := *m
	if _, ok := m.domains.Get(domain.ID()); !ok {
		next.epoch++
	}
	next.domains = m.domains.Set(domain.ID(), domain)
	return &next
}

// WithoutDomain returns a successor state without the given domain.
func (m *State) WithoutDomain(id neigh.DomainID) *State {
	if _, ok := m.domains.Get(id); !ok {
		return m
	}

	next := *m
	next.epoch++
	next.domains = m.domains.Delete(id)
	return &next
}

// WithTable returns a successor state with the given table stored in its
// domain.
func (m *State) WithTable(table *neigh.Table) (*State, error) {
	domain, ok := m.domains.Get(table.Domain())
	if !ok {
		return nil, fmt.Errorf("vlan%d: %w", table.Domain(), ErrNoDomain)
	}

	next := *m
	next.domains = m.domains.Set(domain.ID(), domain.WithTable(table))
	return &next, nil
}

func (m *State) withVersion(version uint64) *State {
	next := *m
	next.version = version
	return &next
}
