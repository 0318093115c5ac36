package receiver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/safetycheck/safetycheck/pkg/types"
	"github.com/safetycheck/safetycheck/server/internal/intake"
	"github.com/safetycheck/safetycheck/server/internal/session"
)

// Fully qualified names of the check service.
const (
	ServiceName      = "safetycheck.v1.CheckService"
	SubmitCheckPath  = "/" + ServiceName + "/SubmitCheck"
	submitMethodName = "SubmitCheck"
)

// Submitter scores and records a complete check.
type Submitter interface {
	Submit(ctx context.Context, c session.Check) (types.SafetyCheckResult, error)
}

// CheckServer is the server API for the check service.
type CheckServer interface {
	SubmitCheck(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// Receiver implements CheckServer on top of a session manager.
type Receiver struct {
	sub Submitter
}

// New creates a Receiver that submits accepted checks to sub.
func New(sub Submitter) *Receiver {
	return &Receiver{sub: sub}
}

// Register adds the check service to srv.
func Register(srv grpc.ServiceRegistrar, cs CheckServer) {
	srv.RegisterService(&ServiceDesc, cs)
}

// SubmitCheck validates the request, scores it and returns the stored result.
func (r *Receiver) SubmitCheck(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	raw, err := protojson.Marshal(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "encode request: %v", err)
	}

	var creq intake.CheckRequest
	if err := intake.Decode(bytes.NewReader(raw), &creq); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := r.sub.Submit(ctx, creq.Check())
	if err != nil {
		return nil, toStatus(err)
	}

	slog.Debug("receiver: check accepted",
		"user", res.UserID,
		"final", res.FinalSafetyScore,
		"level", res.SafetyLevel,
	)
	return resultStruct(res)
}

// toStatus maps session errors to gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, session.ErrMissingUser),
		errors.Is(err, session.ErrUnknownQuestion),
		errors.Is(err, session.ErrInvalidOption):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, session.ErrChecklistIncomplete):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, session.ErrNoSession):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	slog.Error("receiver: submit failed", "err", err)
	return status.Error(codes.Internal, "failed to record check")
}

// resultStruct converts res to a Struct through its JSON form so field names
// match the REST API.
func resultStruct(res types.SafetyCheckResult) (*structpb.Struct, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

// ResultFromStruct decodes a SubmitCheck response.
func ResultFromStruct(s *structpb.Struct) (types.SafetyCheckResult, error) {
	var res types.SafetyCheckResult
	raw, err := protojson.Marshal(s)
	if err != nil {
		return res, err
	}
	err = json.Unmarshal(raw, &res)
	return res, err
}

func submitCheckHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CheckServer).SubmitCheck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SubmitCheckPath,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CheckServer).SubmitCheck(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes the check service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CheckServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: submitMethodName,
			Handler:    submitCheckHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "safetycheck/v1/check.proto",
}
