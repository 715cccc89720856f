package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// codecName is the content-subtype the sale service is served under
// (application/grpc+json).
const codecName = "json"

const (
	saleServiceName         = "pos.v1.SaleService"
	checkoutFullMethod      = "/pos.v1.SaleService/Checkout"
	lookupProductFullMethod = "/pos.v1.SaleService/LookupProduct"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

type CheckoutLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// CheckoutRequest describes a whole cart in one call.
type CheckoutRequest struct {
	Token         string         `json:"token"`
	PaymentMethod string         `json:"payment_method"`
	Lines         []CheckoutLine `json:"lines"`
}

type CheckoutResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	SaleID    string `json:"sale_id,omitempty"`
	Total     string `json:"total,omitempty"`
	ProductID int64  `json:"product_id,omitempty"`
	Requested int64  `json:"requested,omitempty"`
	Available int64  `json:"available,omitempty"`
}

// LookupProductRequest finds one product by ID, or searches by Query when
// ProductID is zero.
type LookupProductRequest struct {
	ProductID int64  `json:"product_id"`
	Query     string `json:"query"`
}

type ProductMessage struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	SalePrice string `json:"sale_price"`
	Stock     int64  `json:"stock"`
}

type LookupProductResponse struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message"`
	Code     string           `json:"code,omitempty"`
	Products []ProductMessage `json:"products,omitempty"`
}

type SaleServiceServer interface {
	Checkout(context.Context, *CheckoutRequest) (*CheckoutResponse, error)
	LookupProduct(context.Context, *LookupProductRequest) (*LookupProductResponse, error)
}

var SaleServiceDesc = grpc.ServiceDesc{
	ServiceName: saleServiceName,
	HandlerType: (*SaleServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Checkout", Handler: checkoutHandler},
		{MethodName: "LookupProduct", Handler: lookupProductHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterSaleServiceServer(s grpc.ServiceRegistrar, srv SaleServiceServer) {
	s.RegisterService(&SaleServiceDesc, srv)
}

func checkoutHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CheckoutRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SaleServiceServer).Checkout(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: checkoutFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SaleServiceServer).Checkout(ctx, req.(*CheckoutRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func lookupProductHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LookupProductRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SaleServiceServer).LookupProduct(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: lookupProductFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SaleServiceServer).LookupProduct(ctx, req.(*LookupProductRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// SaleServiceClient calls the sale service with the JSON codec.
type SaleServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSaleServiceClient(cc grpc.ClientConnInterface) *SaleServiceClient {
	return &SaleServiceClient{cc: cc}
}

func (c *SaleServiceClient) Checkout(ctx context.Context, in *CheckoutRequest, opts ...grpc.CallOption) (*CheckoutResponse, error) {
	out := new(CheckoutResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, checkoutFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SaleServiceClient) LookupProduct(ctx context.Context, in *LookupProductRequest, opts ...grpc.CallOption) (*LookupProductResponse, error) {
	out := new(LookupProductResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, lookupProductFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
