package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/rl1809/reseller/internal/core/domain"
)

// codecName is the gRPC content-subtype of the order service messages
// (application/grpc+json).
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const purchaseFullMethod = "/fulfillment.v1.OrderService/Purchase"

type PurchaseRequest struct {
	RequestID string `json:"request_id"`
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type PurchaseResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Kind    string              `json:"kind,omitempty"`
	Result  *domain.OrderResult `json:"result,omitempty"`
}

type OrderServiceServer interface {
	Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResponse, error)
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: "fulfillment.v1.OrderService",
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Purchase", Handler: purchaseHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fulfillment/v1/order_service",
}

func purchaseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PurchaseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).Purchase(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: purchaseFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).Purchase(ctx, req.(*PurchaseRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// OrderServiceClient calls the order service with the JSON codec.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) Purchase(ctx context.Context, in *PurchaseRequest, opts ...grpc.CallOption) (*PurchaseResponse, error) {
	out := new(PurchaseResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, purchaseFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
