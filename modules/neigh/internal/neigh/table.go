package neigh

import (
	"fmt"
	"iter"
	"net/netip"

	"github.com/benbjohnson/immutable"
)

type addrComparer struct{}

func (addrComparer) Compare(a, b netip.Addr) int {
	return a.Compare(b)
}

// Table is an immutable, versioned set of neighbour entries of a single
// broadcast domain and address family.
//
// Mutating methods return a successor table sharing unmodified entries with
// its predecessor. The receiver is never modified, so a table can be read
// concurrently once published.
type Table struct {
	domain     DomainID
	family     Family
	version    uint64
	generation uint64
	entries    *immutable.SortedMap[netip.Addr, Entry]
}

// NewTable returns an empty table.
func NewTable(domain DomainID, family Family) *Table {
	return &Table{
		domain:  domain,
		family:  family,
		entries: immutable.NewSortedMap[netip.Addr, Entry](addrComparer{}),
	}
}

// Domain returns the broadcast domain of this table.
func (m *Table) Domain() DomainID {
	return m.domain
}

// Family returns the address family of this table.
func (m *Table) Family() Family {
	return m.family
}

// Version returns the version of this table. An empty table has version 0
// and every successor increments it.
func (m *Table) Version() uint64 {
	return m.version
}

// Len returns the number of entries.
func (m *Table) Len() int {
	return m.entries.Len()
}

// Get returns the entry for the given address.
func (m *Table) Get(addr netip.Addr) (Entry, bool) {
	return m.entries.Get(addr)
}

// Put returns a successor table containing the given entry, replacing the
// one with the same key, together with the entry as stored.
//
// An entry for a new key is stamped with a fresh generation; a replacement
// keeps the generation of the entry it replaces.
func (m *Table) Put(entry Entry) (*Table, Entry) {
	if entry.Domain != m.domain {
		panic(fmt.Sprintf("neigh: entry %s does not belong to vlan%d", entry.Key(), m.domain))
	}
	if entry.Family() != m.family {
		panic(fmt.Sprintf("neigh: entry %s does not belong to %s table", entry.Key(), m.family))
	}

	next := m.successor()
	if prev, ok := m.entries.Get(entry.Addr); ok {
		entry.Generation = prev.Generation
	} else {
		next.generation++
		entry.Generation = next.generation
	}
	next.entries = m.entries.Set(entry.Addr, entry)

	return next, entry
}

// Delete returns a successor table without the entry for the given address.
//
// Deleting a missing address returns the receiver itself.
func (m *Table) Delete(addr netip.Addr) *Table {
	if _, ok := m.entries.Get(addr); !ok {
		return m
	}

	next := m.successor()
	next.entries = m.entries.Delete(addr)
	return next
}

// All returns entries ordered by address.
func (m *Table) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		it := m.entries.Iterator()
		for !it.Done() {
			_, entry, _ := it.Next()
			if !yield(entry) {
				return
			}
		}
	}
}

// Entries returns a copy of all entries ordered by address.
func (m *Table) Entries() []Entry {
	entries := make([]Entry, 0, m.Len())
	for entry := range m.All() {
		entries = append(entries, entry)
	}
	return entries
}

func (m *Table) successor() *Table {
	next := *m
	next.version++
	return &next
}
