package switchstate

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
)

func testInterface(vlan neigh.DomainID) Interface {
	return Interface{
		VLAN: vlan,
		ID:   neigh.InterfaceID(vlan),
		Name: fmt.Sprintf("vlan%d", vlan),
		MAC:  neigh.MAC{0x02, 0, 0, 0, 0, byte(vlan)},
		Prefixes: []netip.Prefix{
			netip.MustParsePrefix("10.0.0.1/24"),
			netip.MustParsePrefix("fd00::1/64"),
		},
		Port:  100,
		Ports: []neigh.PortID{1, 2, 3},
	}
}

func addDomain(t *testing.T, applier *Applier, vlan neigh.DomainID) {
	t.Helper()

	_, err := applier.Update(func(state *State) (*State, error) {
		return state.WithDomain(NewDomain(testInterface(vlan))), nil
	})
	require.NoError(t, err)
}

func TestApplier_ApplyStateUpdate(t *testing.T) {
	applier := NewApplier()
	addDomain(t, applier, 10)

	base := applier.Current()
	require.Equal(t, uint64(1), base.Version())

	table, _ := neigh.NewTable(10, neigh.FamilyIPv4).Put(
		neigh.NewPending(10, 10, netip.MustParseAddr("10.0.0.5"), time.Now()),
	)

	next, err := applier.ApplyStateUpdate(base.Version(), func(state *State) (*State, error) {
		return state.WithTable(table)
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), next.Version())
	require.Same(t, next, applier.Current())

	domain, ok := next.Domain(10)
	require.True(t, ok)
	require.Equal(t, 1, domain.Table(neigh.FamilyIPv4).Len())
	require.Zero(t, domain.Table(neigh.FamilyIPv6).Len())

	// The base snapshot is untouched.
	domain, _ = base.Domain(10)
	require.Zero(t, domain.Table(neigh.FamilyIPv4).Len())
}

func TestApplier_StaleBaseConflicts(t *testing.T) {
	applier := NewApplier()
	addDomain(t, applier, 10)
	stale := applier.Current().Version()
	addDomain(t, applier, 20)

	called := false
	_, err := applier.ApplyStateUpdate(stale, func(state *State) (*State, error) {
		called = true
		return state, nil
	})
	require.ErrorIs(t, err, ErrConflict)
	require.False(t, called)
}

func TestApplier_RaceLostConflicts(t *testing.T) {
	applier := NewApplier()
	addDomain(t, applier, 10)

	base := applier.Current().Version()
	_, err := applier.ApplyStateUpdate(base, func(state *State) (*State, error) {
		// Another writer publishes while this mutator is running.
		addDomain(t, applier, 20)
		return state.WithoutDomain(10), nil
	})
	require.ErrorIs(t, err, ErrConflict)

	// The concurrent update survives.
	_, ok := applier.Current().Domain(20)
	require.True(t, ok)
	_, ok = applier.Current().Domain(10)
	require.True(t, ok)
}

func TestApplier_ConcurrentUpdatesConverge(t *testing.T) {
	applier := NewApplier()
	addDomain(t, applier, 10)

	const writers = 8
	const perWriter = 50

	wg := sync.WaitGroup{}
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for i := range perWriter {
				addr := netip.AddrFrom4([4]byte{10, 0, byte(w), byte(i)})
				_, err := applier.Update(func(state *State) (*State, error) {
					domain, ok := state.Domain(10)
					if !ok {
						return nil, ErrNoDomain
					}
					table, _ := domain.Table(neigh.FamilyIPv4).Put(neigh.NewPending(10, 10, addr, time.Now()))
					return state.WithTable(table)
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	domain, ok := applier.Current().Domain(10)
	require.True(t, ok)
	require.Equal(t, writers*perWriter, domain.Table(neigh.FamilyIPv4).Len())
	require.Equal(t, uint64(1+writers*perWriter), applier.Current().Version())
}

func TestApplier_WithTableUnknownDomain(t *testing.T) {
	applier := NewApplier()

	_, err := applier.Update(func(state *State) (*State, error) {
		return state.WithTable(neigh.NewTable(10, neigh.FamilyIPv4))
	})
	require.ErrorIs(t, err, ErrNoDomain)
	require.Zero(t, applier.Current().Version())
}

func TestApplier_Subscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	applier := NewApplier()
	addDomain(t, applier, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := applier.Subscribe(ctx)

	next := func() Event {
		select {
		case ev := <-events:
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}

	ev := next()
	require.Equal(t, InterfaceAdded, ev.Kind)
	require.Equal(t, neigh.DomainID(10), ev.Interface.VLAN)

	addDomain(t, applier, 20)
	ev = next()
	require.Equal(t, InterfaceAdded, ev.Kind)
	require.Equal(t, neigh.DomainID(20), ev.Interface.VLAN)

	// Table updates do not produce lifecycle events.
	_, err := applier.Update(func(state *State) (*State, error) {
		return state.WithTable(neigh.NewTable(20, neigh.FamilyIPv6))
	})
	require.NoError(t, err)

	_, err = applier.Update(func(state *State) (*State, error) {
		return state.WithoutDomain(10), nil
	})
	require.NoError(t, err)
	ev = next()
	require.Equal(t, InterfaceRemoved, ev.Kind)
	require.Equal(t, neigh.DomainID(10), ev.Interface.VLAN)

	cancel()
	for range events {
	}
}

func TestInterface_Addressing(t *testing.T) {
	intf := testInterface(10)

	require.True(t, intf.Owns(netip.MustParseAddr("10.0.0.1")))
	require.False(t, intf.Owns(netip.MustParseAddr("10.0.0.5")))
	require.True(t, intf.OnLink(netip.MustParseAddr("10.0.0.5")))
	require.False(t, intf.OnLink(netip.MustParseAddr("10.0.1.5")))
	require.True(t, intf.IsBroadcast(netip.MustParseAddr("10.0.0.255")))
	require.False(t, intf.IsBroadcast(netip.MustParseAddr("10.0.0.254")))

	src, ok := intf.SourceAddr(netip.MustParseAddr("fd00::5"))
	require.True(t, ok)
	require.Equal(t, netip.MustParseAddr("fd00::1"), src)

	src, ok = intf.SourceAddr(netip.MustParseAddr("192.168.0.1"))
	require.True(t, ok)
	require.Equal(t, netip.MustParseAddr("10.0.0.1"), src)

	require.True(t, intf.HasPort(100))
	require.True(t, intf.HasPort(3))
	require.False(t, intf.HasPort(4))
}
