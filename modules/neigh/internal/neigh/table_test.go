package neigh

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestTable_PutGet(t *testing.T) {
	t0 := NewTable(10, FamilyIPv4)
	require.Zero(t, t0.Version())
	require.Zero(t, t0.Len())

	t1, stored := t0.Put(NewPending(10, 1, testAddr, testNow))
	require.Equal(t, uint64(1), t1.Version())
	require.Equal(t, uint64(1), stored.Generation)

	// The predecessor is never modified.
	require.Zero(t, t0.Len())
	_, ok := t0.Get(testAddr)
	require.False(t, ok)

	entry, ok := t1.Get(testAddr)
	require.True(t, ok)
	require.Equal(t, stored, entry)
}

func TestTable_Uniqueness(t *testing.T) {
	table := NewTable(10, FamilyIPv4)

	table, first := table.Put(NewPending(10, 1, testAddr, testNow))
	table, second := table.Put(first.Confirm(testMAC, 3, OriginResolved, testNow))

	require.Equal(t, 1, table.Len())
	require.Equal(t, first.Generation, second.Generation)

	entry, ok := table.Get(testAddr)
	require.True(t, ok)
	require.Equal(t, StateReachable, entry.State)
}

func TestTable_GenerationGrows(t *testing.T) {
	table := NewTable(10, FamilyIPv4)

	table, first := table.Put(NewPending(10, 1, testAddr, testNow))
	table = table.Delete(testAddr)
	table, second := table.Put(NewPending(10, 1, testAddr, testNow))

	require.Greater(t, second.Generation, first.Generation)
}

func TestTable_Delete(t *testing.T) {
	table, _ := NewTable(10, FamilyIPv4).Put(NewPending(10, 1, testAddr, testNow))

	same := table.Delete(netip.MustParseAddr("10.0.0.6"))
	require.Same(t, table, same)

	next := table.Delete(testAddr)
	require.Equal(t, table.Version()+1, next.Version())
	require.Zero(t, next.Len())
	require.Equal(t, 1, table.Len())
}

func TestTable_OrderedIteration(t *testing.T) {
	table := NewTable(10, FamilyIPv4)
	for _, addr := range []string{"10.0.0.9", "10.0.0.1", "10.0.0.200", "10.0.0.20"} {
		table, _ = table.Put(NewPending(10, 1, netip.MustParseAddr(addr), testNow))
	}

	addrs := []string{}
	for entry := range table.All() {
		addrs = append(addrs, entry.Addr.String())
	}

	expected := []string{"10.0.0.1", "10.0.0.9", "10.0.0.20", "10.0.0.200"}
	if diff := cmp.Diff(expected, addrs); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	require.Len(t, table.Entries(), 4)
}

func TestTable_RejectsForeignEntries(t *testing.T) {
	table := NewTable(10, FamilyIPv4)

	require.Panics(t, func() {
		table.Put(NewPending(20, 1, testAddr, testNow))
	})
	require.Panics(t, func() {
		table.Put(NewPending(10, 1, netip.MustParseAddr("fd00::5"), testNow))
	})
}
