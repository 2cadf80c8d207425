package neighbour

import (
	"context"
	"errors"
	"net/netip"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yanet-platform/neighd/modules/neigh/controlplane/neighpb"
	"github.com/yanet-platform/neighd/modules/neigh/internal/engine"
	"github.com/yanet-platform/neighd/modules/neigh/internal/neigh"
	"github.com/yanet-platform/neighd/modules/neigh/internal/switchstate"
)

// NeighbourService implements the neighbour ops service.
type NeighbourService struct {
	neighpb.UnimplementedNeighbourServer

	applier *switchstate.Applier
	manager *Manager
	log     *zap.SugaredLogger
}

// NewNeighbourService creates a new NeighbourService.
func NewNeighbourService(applier *switchstate.Applier, manager *Manager, log *zap.SugaredLogger) *NeighbourService {
	return &NeighbourService{
		applier: applier,
		manager: manager,
		log:     log,
	}
}

// List returns entries of the currently published tables.
func (m *NeighbourService) List(ctx context.Context, req *neighpb.ListRequest) (*neighpb.ListResponse, error) {
	families := []neigh.Family{neigh.FamilyIPv4, neigh.FamilyIPv6}
	switch req.Family {
	case "":
	case neigh.FamilyIPv4.String():
		families = families[:1]
	case neigh.FamilyIPv6.String():
		families = families[1:]
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown family %q", req.Family)
	}

	state := m.applier.Current()
	if req.VLAN != 0 {
		if _, ok := state.Domain(neigh.DomainID(req.VLAN)); !ok {
			return nil, status.Errorf(codes.NotFound, "vlan%d is not active", req.VLAN)
		}
	}

	entries := []neighpb.Entry{}
	for domain := range state.Domains() {
		if req.VLAN != 0 && domain.ID() != neigh.DomainID(req.VLAN) {
			continue
		}

		for _, family := range families {
			for entry := range domain.Table(family).All() {
				entries = append(entries, m.entryOf(entry))
			}
		}
	}

	return &neighpb.ListResponse{
		Version: state.Version(),
		Entries: entries,
	}, nil
}

// Flush removes the entry of the given address, if any.
func (m *NeighbourService) Flush(ctx context.Context, req *neighpb.FlushRequest) (*neighpb.FlushResponse, error) {
	addr, e, err := m.lookup(req.VLAN, req.Addr)
	if err != nil {
		return nil, err
	}

	if err := e.Flush(ctx, addr); err != nil {
		return nil, statusOf(err)
	}
	return &neighpb.FlushResponse{}, nil
}

// Resolve starts resolution of the given address.
func (m *NeighbourService) Resolve(ctx context.Context, req *neighpb.ResolveRequest) (*neighpb.ResolveResponse, error) {
	addr, e, err := m.lookup(req.VLAN, req.Addr)
	if err != nil {
		return nil, err
	}

	if err := e.Resolve(ctx, addr); err != nil {
		return nil, statusOf(err)
	}
	return &neighpb.ResolveResponse{}, nil
}

func (m *NeighbourService) lookup(vlan uint16, rawAddr string) (netip.Addr, resolver, error) {
	addr, err := netip.ParseAddr(rawAddr)
	if err != nil {
		return netip.Addr{}, nil, status.Errorf(codes.InvalidArgument, "failed to parse address: %v", err)
	}
	addr = addr.Unmap()

	e, err := m.manager.engineOf(neigh.DomainID(vlan), neigh.FamilyOf(addr))
	if err != nil {
		return netip.Addr{}, nil, statusOf(err)
	}
	return addr, e, nil
}

func (m *NeighbourService) entryOf(entry neigh.Entry) neighpb.Entry {
	out := neighpb.Entry{
		VLAN:       uint16(entry.Domain),
		Family:     entry.Family().String(),
		Addr:       entry.Addr.String(),
		Interface:  uint32(entry.Interface),
		State:      entry.State.String(),
		Origin:     entry.Origin.String(),
		Retries:    entry.Retries,
		Generation: entry.Generation,
		UpdatedAt:  entry.UpdatedAt,
	}
	if !entry.MAC.IsZero() {
		out.MAC = entry.MAC.String()
		out.Port = uint32(entry.Port)
		out.PortName = m.manager.PortName(entry.Port)
	}
	return out
}

func statusOf(err error) error {
	switch {
	case errors.Is(err, engine.ErrInvalidAddress):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, switchstate.ErrNoDomain):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, engine.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
