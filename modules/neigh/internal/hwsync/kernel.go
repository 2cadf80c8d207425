package hwsync

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
)

// LinkResolver returns the ifindex of the L3 netdev of the given domain.
type LinkResolver func(domain neigh.DomainID) (int, bool)

// NeighHandle is the subset of netlink used to install neighbours.
type NeighHandle interface {
	NeighSet(neigh *netlink.Neigh) error
	NeighDel(neigh *netlink.Neigh) error
}

type netlinkHandle struct{}

func (netlinkHandle) NeighSet(neigh *netlink.Neigh) error {
	return netlink.NeighSet(neigh)
}

func (netlinkHandle) NeighDel(neigh *netlink.Neigh) error {
	return netlink.NeighDel(neigh)
}

// KernelProgrammer installs host entries as externally learned kernel
// neighbours on the L3 netdev of their domain, which switchdev drivers
// offload into the hardware host table.
type KernelProgrammer struct {
	handle NeighHandle
	links  LinkResolver
	log    *zap.SugaredLogger
}

// NewKernelProgrammer creates a kernel backend.
//
// A nil handle means the default netlink namespace.
func NewKernelProgrammer(handle NeighHandle, links LinkResolver, log *zap.SugaredLogger) *KernelProgrammer {
	if handle == nil {
		handle = netlinkHandle{}
	}

	return &KernelProgrammer{
		handle: handle,
		links:  links,
		log:    log,
	}
}

func (m *KernelProgrammer) ProgramHostEntry(ctx context.Context, entry HostEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	nlNeigh, err := m.neighOf(entry)
	if err != nil {
		return err
	}
	nlNeigh.State = netlink.NUD_REACHABLE
	nlNeigh.Flags = netlink.NTF_EXT_LEARNED
	nlNeigh.HardwareAddr = entry.MAC.HardwareAddr()

	if err := m.handle.NeighSet(nlNeigh); err != nil {
		return fmt.Errorf("failed to set neighbour %s: %w", entry, err)
	}

	m.log.Debugw("programmed kernel neighbour",
		zap.Stringer("entry", entry),
		zap.Int("link_index", nlNeigh.LinkIndex),
	)
	return nil
}

func (m *KernelProgrammer) UnprogramHostEntry(ctx context.Context, entry HostEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	nlNeigh, err := m.neighOf(entry)
	if err != nil {
		return err
	}

	if err := m.handle.NeighDel(nlNeigh); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil
		}
		return fmt.Errorf("failed to delete neighbour %s: %w", entry, err)
	}

	m.log.Debugw("unprogrammed kernel neighbour",
		zap.Stringer("entry", entry),
		zap.Int("link_index", nlNeigh.LinkIndex),
	)
	return nil
}

func (m *KernelProgrammer) neighOf(entry HostEntry) (*netlink.Neigh, error) {
	linkIndex, ok := m.links(entry.Domain)
	if !ok {
		return nil, fmt.Errorf("no L3 link for vlan%d", entry.Domain)
	}

	family := netlink.FAMILY_V4
	if entry.Addr.Is6() {
		family = netlink.FAMILY_V6
	}

	return &netlink.Neigh{
		LinkIndex: linkIndex,
		Family:    family,
		IP:        net.IP(entry.Addr.AsSlice()),
	}, nil
}
