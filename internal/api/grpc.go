package api

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"evalgate/internal/promotion"
	"evalgate/internal/store"
)

// PromotionServiceName is the fully qualified gRPC service name.
const PromotionServiceName = "evalgate.v1.Promotion"

// PromotionServer is the gRPC Promotion service. Requests and responses are
// structpb.Struct values carrying the same JSON the HTTP API uses:
//
//	GetRecord {"strategy_id": "..."}                 -> PromotionRecord
//	Retire    {"strategy_id": "...", "reason": "..."} -> PromotionRecord
type PromotionServer interface {
	GetRecord(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Retire(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var promotionServiceDesc = grpc.ServiceDesc{
	ServiceName: PromotionServiceName,
	HandlerType: (*PromotionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetRecord", Handler: unaryHandler("GetRecord", PromotionServer.GetRecord)},
		{MethodName: "Retire", Handler: unaryHandler("Retire", PromotionServer.Retire)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "evalgate/v1/promotion.proto",
}

// RegisterPromotionServer registers srv on s.
func RegisterPromotionServer(s grpc.ServiceRegistrar, srv PromotionServer) {
	s.RegisterService(&promotionServiceDesc, srv)
}

func unaryHandler(method string, call func(PromotionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + PromotionServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PromotionServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(PromotionServer), ctx, req.(*structpb.Struct))
		})
	}
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// PromotionClient calls the Promotion service over a client connection.
type PromotionClient struct {
	cc grpc.ClientConnInterface
}

// NewPromotionClient wraps cc.
func NewPromotionClient(cc grpc.ClientConnInterface) *PromotionClient {
	return &PromotionClient{cc: cc}
}

// GetRecord fetches the promotion record of strategyID.
func (c *PromotionClient) GetRecord(ctx context.Context, strategyID string) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetRecord", map[string]any{"strategy_id": strategyID})
}

// Retire retires strategyID with the given reason.
func (c *PromotionClient) Retire(ctx context.Context, strategyID, reason string) (*structpb.Struct, error) {
	return c.invoke(ctx, "Retire", map[string]any{"strategy_id": strategyID, "reason": reason})
}

func (c *PromotionClient) invoke(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+PromotionServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Service implementation
// ---------------------------------------------------------------------------

var _ PromotionServer = (*promotionService)(nil)

type promotionService struct {
	srv *Server
}

func (p *promotionService) GetRecord(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := strategyID(req)
	if err != nil {
		return nil, err
	}
	rec, err := p.srv.promoter.Get(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(rec)
}

func (p *promotionService) Retire(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := strategyID(req)
	if err != nil {
		return nil, err
	}
	reason := req.GetFields()["reason"].GetStringValue()
	rec, err := p.srv.promoter.Retire(ctx, id, reason)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(rec)
}

func strategyID(req *structpb.Struct) (string, error) {
	id := req.GetFields()["strategy_id"].GetStringValue()
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "strategy_id is required")
	}
	return id, nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, promotion.ErrInvalidTransition), errors.Is(err, store.ErrStateConflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// toStruct converts v to a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}
