package engine

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yanet-platform/neighd/modules/neigh/internal/hwsync"
	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
	"github.com/yanet-platform/neighd/modules/neigh/internal/proto/arp"
	"github.com/yanet-platform/neighd/modules/neigh/internal/switchstate"
)

type actor struct {
	engine  *Engine[arp.Adapter]
	applier *switchstate.Applier
	tx      *recordingTx
	sim     *hwsync.SimProgrammer
	errs    chan error
	cancel  context.CancelFunc
}

func startEngine(t *testing.T, cfg Config) *actor {
	t.Helper()

	applier := switchstate.NewApplier()
	_, err := applier.Update(func(state *switchstate.State) (*switchstate.State, error) {
		return state.WithDomain(switchstate.NewDomain(testInterface())), nil
	})
	require.NoError(t, err)

	tx := &recordingTx{}
	sim := hwsync.NewSimProgrammer()
	engine := New(testVLAN, arp.New(), applier, tx, sim, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		errs <- engine.Run(ctx)
	}()

	return &actor{
		engine:  engine,
		applier: applier,
		tx:      tx,
		sim:     sim,
		errs:    errs,
		cancel:  cancel,
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryInterval = 20 * time.Millisecond
	cfg.ReachableTime = time.Minute
	cfg.ProbeDelay = time.Minute
	return cfg
}

func TestEngine_Resolve(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := startEngine(t, fastConfig())
	defer a.engine.Close()

	ctx := context.Background()
	require.NoError(t, a.engine.Resolve(ctx, hostAddr))

	entry, ok := a.engine.Snapshot().Get(hostAddr)
	require.True(t, ok)
	assert.Equal(t, neigh.StatePending, entry.State)

	require.True(t, a.engine.HandleFrame(hostReply(t, hostMAC, hostAddr), 3))

	require.Eventually(t, func() bool {
		_, ok := a.sim.Lookup(neigh.Key{Domain: testVLAN, Addr: hostAddr})
		return ok
	}, time.Second, time.Millisecond)

	entry, ok = a.engine.Snapshot().Get(hostAddr)
	require.True(t, ok)
	assert.Equal(t, neigh.StateReachable, entry.State)
	assert.Equal(t, neigh.PortID(3), entry.Port)

	require.NoError(t, a.engine.Close())
	assert.Empty(t, a.sim.Entries())
	assert.NoError(t, <-a.errs)
	a.cancel()
}

func TestEngine_ResolveTimesOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := startEngine(t, fastConfig())
	defer a.engine.Close()
	defer a.cancel()

	require.NoError(t, a.engine.Resolve(context.Background(), hostAddr))

	require.Eventually(t, func() bool {
		_, ok := a.engine.Snapshot().Get(hostAddr)
		return !ok
	}, time.Second, time.Millisecond)

	assert.Len(t, a.tx.Sent(), 3)
	assert.Empty(t, a.sim.Calls())
}

func TestEngine_InvalidAddress(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := startEngine(t, fastConfig())
	defer a.engine.Close()
	defer a.cancel()

	err := a.engine.Resolve(context.Background(), netip.MustParseAddr("192.168.1.1"))
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestEngine_StaticAndFlush(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := startEngine(t, fastConfig())
	defer a.engine.Close()
	defer a.cancel()

	ctx := context.Background()
	require.NoError(t, a.engine.AddStatic(ctx, otherAddr, otherMAC, 2))
	require.Eventually(t, func() bool {
		return len(a.sim.Entries()) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, a.engine.Flush(ctx, otherAddr))
	require.NoError(t, a.engine.Flush(ctx, otherAddr))
	require.Eventually(t, func() bool {
		return len(a.sim.Entries()) == 0
	}, time.Second, time.Millisecond)

	assert.Len(t, a.sim.CallsOf(hwsync.OpUnprogram), 1)
	assert.Zero(t, a.engine.Snapshot().Len())
}

func TestEngine_LinkDown(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := startEngine(t, fastConfig())
	defer a.engine.Close()
	defer a.cancel()

	ctx := context.Background()
	require.NoError(t, a.engine.ReplyObserved(ctx, hostAddr, hostMAC, 3, true))
	require.Eventually(t, func() bool {
		return len(a.sim.Entries()) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, a.engine.LinkDown(ctx, 3))
	require.Eventually(t, func() bool {
		return len(a.sim.Entries()) == 0
	}, time.Second, time.Millisecond)
	assert.Len(t, a.sim.CallsOf(hwsync.OpUnprogram), 1)
}

func TestEngine_Canceled(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := startEngine(t, fastConfig())
	defer a.engine.Close()

	a.cancel()
	require.ErrorIs(t, <-a.errs, context.Canceled)

	err := a.engine.Resolve(context.Background(), hostAddr)
	require.ErrorIs(t, err, ErrClosed)
	assert.False(t, a.engine.HandleFrame(hostReply(t, hostMAC, hostAddr), 3))
}

func TestEngine_CloseWithoutRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine := New(testVLAN, arp.New(), switchstate.NewApplier(), &recordingTx{}, hwsync.NewSimProgrammer(), fastConfig())
	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())

	err := engine.Flush(context.Background(), hostAddr)
	require.ErrorIs(t, err, ErrClosed)
}
