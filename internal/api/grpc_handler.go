package api

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// SpecsMatchServer is the server API for the catalog.specs.v1.SpecsMatch service.
// Requests and responses are google.protobuf.Struct documents shaped like the
// HTTP JSON bodies.
type SpecsMatchServer interface {
	StartRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SuggestAttributes(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

const specsMatchService = "catalog.specs.v1.SpecsMatch"

// methodHandler matches grpc.MethodDesc.Handler.
type methodHandler = func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error)

// SpecsMatchServiceDesc describes the SpecsMatch service for grpc.Server.RegisterService.
var SpecsMatchServiceDesc = grpc.ServiceDesc{
	ServiceName: specsMatchService,
	HandlerType: (*SpecsMatchServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartRun", Handler: unaryHandler("StartRun", SpecsMatchServer.StartRun)},
		{MethodName: "GetRun", Handler: unaryHandler("GetRun", SpecsMatchServer.GetRun)},
		{MethodName: "SuggestAttributes", Handler: unaryHandler("SuggestAttributes", SpecsMatchServer.SuggestAttributes)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "catalog/specs/v1/specs_match.proto",
}

func unaryHandler(method string, call func(SpecsMatchServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) methodHandler {
	fullMethod := "/" + specsMatchService + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SpecsMatchServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(SpecsMatchServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterSpecsMatchServer registers srv on s.
func RegisterSpecsMatchServer(s grpc.ServiceRegistrar, srv SpecsMatchServer) {
	s.RegisterService(&SpecsMatchServiceDesc, srv)
}

// GRPCHandler implements SpecsMatchServer on top of the Service.
type GRPCHandler struct {
	svc    *Service
	logger *zap.Logger
}

var _ SpecsMatchServer = (*GRPCHandler)(nil)

// NewGRPCHandler creates a new GRPCHandler.
func NewGRPCHandler(svc *Service) *GRPCHandler {
	return &GRPCHandler{svc: svc, logger: svc.logger.Named("grpc")}
}

// --- Helpers ---

func (g *GRPCHandler) statusError(method string, err error) error {
	_, code := classify(err)
	if code == codes.Internal {
		g.logger.Error("grpc call failed", zap.String("method", method), zap.Error(err))
		return status.Errorf(codes.Internal, "%s failed", method)
	}
	g.logger.Debug("grpc call rejected", zap.String("method", method), zap.Error(err))
	return status.Error(code, err.Error())
}

// fromStruct decodes a Struct into v through its JSON form.
func fromStruct(in *structpb.Struct, v any) error {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

// toStruct encodes v as a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// --- Methods ---

// StartRun queues a specs-match run. The request is a StartRunRequest document.
func (g *GRPCHandler) StartRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	input := NewStartRunRequest()
	if err := fromStruct(req, &input); err != nil {
		return nil, err
	}
	accepted, err := g.svc.StartSpecsMatch(ctx, input)
	if err != nil {
		return nil, g.statusError("StartRun", err)
	}
	return toStruct(accepted)
}

// GetRun returns the run named by {"run_id": N}.
func (g *GRPCHandler) GetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var input struct {
		RunID int64 `json:"run_id"`
	}
	if err := fromStruct(req, &input); err != nil {
		return nil, err
	}
	if input.RunID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "run_id must be a positive integer")
	}
	run, err := g.svc.Run(ctx, input.RunID)
	if err != nil {
		return nil, g.statusError("GetRun", err)
	}
	return toStruct(run)
}

// SuggestAttributes returns {"data": [...]} for a SuggestionsRequest document.
func (g *GRPCHandler) SuggestAttributes(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var input SuggestionsRequest
	if err := fromStruct(req, &input); err != nil {
		return nil, err
	}
	suggestions, err := g.svc.Suggestions(ctx, input)
	if err != nil {
		return nil, g.statusError("SuggestAttributes", err)
	}
	return toStruct(map[string]any{"data": suggestions})
}
