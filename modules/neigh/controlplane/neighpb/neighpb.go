// Package neighpb declares the neighbour ops service.
//
// Messages are plain structs carried by the JSON codec of xgrpc, so the
// service is declared by hand instead of being generated.
package neighpb

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yanet-platform/neighd/common/go/xgrpc"
)

// ServiceName is the full name of the neighbour ops service.
const ServiceName = "neighpb.Neighbour"

const (
	ListFullMethodName    = "/" + ServiceName + "/List"
	FlushFullMethodName   = "/" + ServiceName + "/Flush"
	ResolveFullMethodName = "/" + ServiceName + "/Resolve"
)

// Entry is a neighbour entry.
type Entry struct {
	VLAN      uint16 `json:"vlan"`
	Family    string `json:"family"`
	Addr      string `json:"addr"`
	MAC       string `json:"mac,omitempty"`
	Port      uint32 `json:"port,omitempty"`
	PortName  string `json:"port_name,omitempty"`
	Interface uint32 `json:"interface"`
	State     string `json:"state"`
	Origin    string `json:"origin"`
	// Retries is the number of requests sent in the current resolution
	// or probe cycle.
	Retries    int       `json:"retries,omitempty"`
	Generation uint64    `json:"generation"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ListRequest selects entries to list. Zero values match everything.
type ListRequest struct {
	VLAN uint16 `json:"vlan,omitempty"`
	// Family is either "ipv4" or "ipv6".
	Family string `json:"family,omitempty"`
}

type ListResponse struct {
	// Version is the switch state version the entries were taken from.
	Version uint64  `json:"version"`
	Entries []Entry `json:"entries"`
}

type FlushRequest struct {
	VLAN uint16 `json:"vlan"`
	Addr string `json:"addr"`
}

type FlushResponse struct{}

type ResolveRequest struct {
	VLAN uint16 `json:"vlan"`
	Addr string `json:"addr"`
}

type ResolveResponse struct{}

// NeighbourServer is the server API of the neighbour ops service.
type NeighbourServer interface {
	// List returns entries of the currently published tables.
	List(context.Context, *ListRequest) (*ListResponse, error)
	// Flush removes the entry of the given address.
	Flush(context.Context, *FlushRequest) (*FlushResponse, error)
	// Resolve starts resolution of the given address.
	Resolve(context.Context, *ResolveRequest) (*ResolveResponse, error)
}

// UnimplementedNeighbourServer answers every call with codes.Unimplemented.
type UnimplementedNeighbourServer struct{}

func (UnimplementedNeighbourServer) List(context.Context, *ListRequest) (*ListResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method List not implemented")
}

func (UnimplementedNeighbourServer) Flush(context.Context, *FlushRequest) (*FlushResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Flush not implemented")
}

func (UnimplementedNeighbourServer) Resolve(context.Context, *ResolveRequest) (*ResolveResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Resolve not implemented")
}

// NeighbourServiceDesc is the grpc.ServiceDesc of the neighbour ops service.
var NeighbourServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NeighbourServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("List", ListFullMethodName, NeighbourServer.List),
		unaryMethod("Flush", FlushFullMethodName, NeighbourServer.Flush),
		unaryMethod("Resolve", ResolveFullMethodName, NeighbourServer.Resolve),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "neighpb/neighpb.go",
}

// RegisterNeighbourServer registers the service implementation.
func RegisterNeighbourServer(s grpc.ServiceRegistrar, srv NeighbourServer) {
	s.RegisterService(&NeighbourServiceDesc, srv)
}

func unaryMethod[Req any, Resp any](
	name string,
	fullMethod string,
	call func(NeighbourServer, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(NeighbourServer), ctx, in)
			}

			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(NeighbourServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// NeighbourClient is the client API of the neighbour ops service.
type NeighbourClient interface {
	List(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListResponse, error)
	Flush(ctx context.Context, in *FlushRequest, opts ...grpc.CallOption) (*FlushResponse, error)
	Resolve(ctx context.Context, in *ResolveRequest, opts ...grpc.CallOption) (*ResolveResponse, error)
}

type neighbourClient struct {
	cc grpc.ClientConnInterface
}

// NewNeighbourClient creates a client speaking the JSON codec.
func NewNeighbourClient(cc grpc.ClientConnInterface) NeighbourClient {
	return &neighbourClient{cc: cc}
}

func (m *neighbourClient) List(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListResponse, error) {
	out := new(ListResponse)
	if err := m.invoke(ctx, ListFullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *neighbourClient) Flush(ctx context.Context, in *FlushRequest, opts ...grpc.CallOption) (*FlushResponse, error) {
	out := new(FlushResponse)
	if err := m.invoke(ctx, FlushFullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *neighbourClient) Resolve(ctx context.Context, in *ResolveRequest, opts ...grpc.CallOption) (*ResolveResponse, error) {
	out := new(ResolveResponse)
	if err := m.invoke(ctx, ResolveFullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *neighbourClient) invoke(ctx context.Context, method string, in any, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(xgrpc.JSONCodecName)}, opts...)
	return m.cc.Invoke(ctx, method, in, out, opts...)
}
