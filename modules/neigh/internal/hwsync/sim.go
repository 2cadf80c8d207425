package hwsync

import (
	"context"
	"slices"
	"sync"

	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
)

// Call is a recorded hardware operation.
type Call struct {
	Op    Op
	Entry HostEntry
}

// SimProgrammer is an in-memory hardware host table.
//
// It records every call, which makes it suitable both for tests and for
// bring-up on platforms without an offload backend.
type SimProgrammer struct {
	mu      sync.Mutex
	entries map[neigh.Key]HostEntry
	calls   []Call
	failure func(Op, HostEntry) error
}

// NewSimProgrammer creates an empty simulated host table.
func NewSimProgrammer() *SimProgrammer {
	return &SimProgrammer{
		entries: map[neigh.Key]HostEntry{},
	}
}

// SetFailure installs a hook deciding whether an operation fails. A nil
// hook makes every operation succeed.
func (m *SimProgrammer) SetFailure(fn func(Op, HostEntry) error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failure = fn
}

func (m *SimProgrammer) ProgramHostEntry(ctx context.Context, entry HostEntry) error {
	return m.apply(ctx, OpProgram, entry)
}

func (m *SimProgrammer) UnprogramHostEntry(ctx context.Context, entry HostEntry) error {
	return m.apply(ctx, OpUnprogram, entry)
}

func (m *SimProgrammer) apply(ctx context.Context, op Op, entry HostEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Op: op, Entry: entry})
	if m.failure != nil {
		if err := m.failure(op, entry); err != nil {
			return err
		}
	}

	switch op {
	case OpProgram:
		m.entries[entry.Key()] = entry
	case OpUnprogram:
		delete(m.entries, entry.Key())
	}
	return nil
}

// Entries returns programmed entries ordered by domain and address.
func (m *SimProgrammer) Entries() []HostEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]HostEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(a, b HostEntry) int {
		if a.Domain != b.Domain {
			return int(a.Domain) - int(b.Domain)
		}
		return a.Addr.Compare(b.Addr)
	})
	return entries
}

// Lookup returns the programmed entry for the given key.
func (m *SimProgrammer) Lookup(key neigh.Key) (HostEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	return entry, ok
}

// Calls returns a copy of all recorded operations.
func (m *SimProgrammer) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.calls)
}

// CallsOf returns recorded operations of the given kind.
func (m *SimProgrammer) CallsOf(op Op) []Call {
	calls := []Call{}
	for _, call := range m.Calls() {
		if call.Op == op {
			calls = append(calls, call)
		}
	}
	return calls
}
