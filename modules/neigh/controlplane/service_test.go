package neighbour

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/yanet-platform/neighd/common/go/xgrpc"
	"github.com/yanet-platform/neighd/modules/neigh/controlplane/neighpb"
	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
	"github.com/yanet-platform/neighd/modules/neigh/internal/switchstate"
)

type serviceHarness struct {
	*managerHarness
	client neighpb.NeighbourClient
}

func startService(t *testing.T) (*serviceHarness, func()) {
	t.Helper()

	h := startManager(t)
	h.update(testLinks())
	require.Eventually(t, func() bool { return staticProgrammed(h.sim) }, 5*time.Second, time.Millisecond)
	h.waitPorts(vlan10, swp1, swp2)

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(xgrpc.AccessLogInterceptor(zap.NewNop().Sugar())))
	neighpb.RegisterNeighbourServer(server, NewNeighbourService(h.applier, h.manager, zap.NewNop().Sugar()))

	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = server.Serve(listener)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	stop := func() {
		conn.Close()
		server.Stop()
		<-served
		h.stop()
	}

	return &serviceHarness{
		managerHarness: h,
		client:         neighpb.NewNeighbourClient(conn),
	}, stop
}

func TestNeighbourService_List(t *testing.T) {
	defer goleak.VerifyNone(t)

	h, stop := startService(t)
	defer stop()

	ctx := context.Background()
	resp, err := h.client.List(ctx, &neighpb.ListRequest{})
	require.NoError(t, err)
	assert.NotZero(t, resp.Version)
	assert.LessOrEqual(t, resp.Version, h.applier.Current().Version())
	require.Len(t, resp.Entries, 1)

	entry := resp.Entries[0]
	assert.Equal(t, uint16(testVLAN), entry.VLAN)
	assert.Equal(t, "ipv4", entry.Family)
	assert.Equal(t, staticAddr.String(), entry.Addr)
	assert.Equal(t, staticMAC.String(), entry.MAC)
	assert.Equal(t, uint32(swp1), entry.Port)
	assert.Equal(t, "swp1", entry.PortName)
	assert.Equal(t, neigh.StateReachable.String(), entry.State)
	assert.Equal(t, neigh.OriginStatic.String(), entry.Origin)

	resp, err = h.client.List(ctx, &neighpb.ListRequest{Family: "ipv6"})
	require.NoError(t, err)
	assert.Empty(t, resp.Entries)

	_, err = h.client.List(ctx, &neighpb.ListRequest{Family: "ipx"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.List(ctx, &neighpb.ListRequest{VLAN: 20})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestNeighbourService_ResolveAndFlush(t *testing.T) {
	defer goleak.VerifyNone(t)

	h, stop := startService(t)
	defer stop()

	ctx := context.Background()
	target := netip.MustParseAddr("10.0.0.9")

	_, err := h.client.Resolve(ctx, &neighpb.ResolveRequest{VLAN: uint16(testVLAN), Addr: target.String()})
	require.NoError(t, err)

	// The request is flooded out of the L3 port and the entry fails once
	// retries run out.
	require.Eventually(t, func() bool {
		return len(h.opener.Socket("vlan10").Written()) > 0
	}, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		resp, err := h.client.List(ctx, &neighpb.ListRequest{VLAN: uint16(testVLAN), Family: "ipv4"})
		require.NoError(t, err)
		return len(resp.Entries) == 1
	}, 5*time.Second, 5*time.Millisecond)

	_, err = h.client.Flush(ctx, &neighpb.FlushRequest{VLAN: uint16(testVLAN), Addr: staticAddr.String()})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !staticProgrammed(h.sim) }, 5*time.Second, time.Millisecond)

	d, ok := h.applier.Current().Domain(testVLAN)
	require.True(t, ok)
	_, ok = d.Table(neigh.FamilyIPv4).Get(staticAddr)
	assert.False(t, ok)

	// Flushing an unknown address is not an error.
	_, err = h.client.Flush(ctx, &neighpb.FlushRequest{VLAN: uint16(testVLAN), Addr: "10.0.0.200"})
	require.NoError(t, err)
}

func TestNeighbourService_Errors(t *testing.T) {
	defer goleak.VerifyNone(t)

	h, stop := startService(t)
	defer stop()

	ctx := context.Background()
	tests := []struct {
		name string
		req  *neighpb.ResolveRequest
		code codes.Code
	}{
		{
			name: "malformed address",
			req:  &neighpb.ResolveRequest{VLAN: uint16(testVLAN), Addr: "10.0.0"},
			code: codes.InvalidArgument,
		},
		{
			name: "off-link address",
			req:  &neighpb.ResolveRequest{VLAN: uint16(testVLAN), Addr: "192.168.0.1"},
			code: codes.InvalidArgument,
		},
		{
			name: "own address",
			req:  &neighpb.ResolveRequest{VLAN: uint16(testVLAN), Addr: routerAddr.String()},
			code: codes.InvalidArgument,
		},
		{
			name: "unknown domain",
			req:  &neighpb.ResolveRequest{VLAN: 20, Addr: "10.0.0.9"},
			code: codes.NotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.client.Resolve(ctx, tt.req)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, codes.NotFound, status.Code(statusOf(switchstate.ErrNoDomain)))
	assert.Equal(t, codes.Canceled, status.Code(statusOf(context.Canceled)))
	assert.Equal(t, codes.Internal, status.Code(statusOf(assert.AnError)))
}
