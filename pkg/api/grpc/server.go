// Package grpcapi exposes the calculator over gRPC. The service is described
// by hand with well-known protobuf types, so no generated code is needed.
package grpcapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/lemonberrylabs/calcbot/pkg/logging"
	"github.com/lemonberrylabs/calcbot/pkg/query"
	"github.com/lemonberrylabs/calcbot/pkg/store"
)

// ServiceName is the fully qualified name of the calculator service.
const ServiceName = "calcbot.v1.Calculator"

const (
	evaluateMethod    = "/" + ServiceName + "/Evaluate"
	listQueriesMethod = "/" + ServiceName + "/ListQueries"
)

// listLimit caps the records returned by ListQueries.
const listLimit = 50

// CalculatorServer is the server API of calcbot.v1.Calculator.
type CalculatorServer interface {
	Evaluate(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListQueries(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CalculatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluateHandler},
		{MethodName: "ListQueries", Handler: listQueriesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "calcbot/v1/calculator.proto",
}

// RegisterCalculatorServer registers srv on s.
func RegisterCalculatorServer(s grpc.ServiceRegistrar, srv CalculatorServer) {
	s.RegisterService(&serviceDesc, srv)
}

func evaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CalculatorServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: evaluateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CalculatorServer).Evaluate(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func listQueriesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CalculatorServer).ListQueries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listQueriesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CalculatorServer).ListQueries(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Server implements the calculator and health gRPC services.
type Server struct {
	proc   *query.Processor
	logger *slog.Logger
	health *health.Server
	grpc   *grpc.Server
}

// New creates a new gRPC server around proc.
func New(proc *query.Processor, logger *slog.Logger) *Server {
	srv := &Server{
		proc:   proc,
		logger: logging.OrDiscard(logger).With("component", "grpc"),
		health: health.NewServer(),
	}

	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(srv.logCalls))
	RegisterCalculatorServer(gs, srv)
	healthpb.RegisterHealthServer(gs, srv.health)
	srv.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	srv.grpc = gs

	return srv
}

// Serve starts listening on the given address and serves gRPC requests.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	s.logger.Info("grpc_listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// GracefulStop marks the services as not serving and stops the server once
// in-flight calls finish.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Evaluate runs one query.
func (s *Server) Evaluate(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	res := s.proc.Process(ctx, store.SourceGRPC, req.GetValue())
	return toStruct(resultFields(res))
}

// ListQueries returns the most recent queries, newest first.
func (s *Server) ListQueries(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	items := []any{}
	if h := s.proc.History(); h != nil {
		for _, r := range h.List(listLimit) {
			items = append(items, recordFields(r))
		}
	}
	return toStruct(map[string]any{"queries": items})
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("grpc_call", "method", info.FullMethod, "code", status.Code(err).String(),
		"duration", time.Since(start))
	return resp, err
}

func toStruct(fields map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return st, nil
}

func resultFields(r query.Result) map[string]any {
	out := map[string]any{
		"query":   r.Query,
		"result":  r.Result,
		"message": r.Message,
		"error":   r.Error,
		"kind":    r.Kind,
	}
	if r.ID != "" {
		out["id"] = r.ID
	}
	if r.Value != nil {
		out["value"] = *r.Value
	}
	return out
}

func recordFields(r store.Record) map[string]any {
	return map[string]any{
		"id":         r.ID,
		"source":     string(r.Source),
		"query":      r.Query,
		"result":     r.Result,
		"message":    r.Message,
		"error":      r.Error,
		"kind":       r.Kind,
		"createTime": r.CreatedAt.Format(time.RFC3339Nano),
	}
}
