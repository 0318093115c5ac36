package receiver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// CheckClient is the client API for the check service.
type CheckClient struct {
	cc grpc.ClientConnInterface
}

// NewCheckClient wraps cc.
func NewCheckClient(cc grpc.ClientConnInterface) *CheckClient {
	return &CheckClient{cc: cc}
}

// SubmitCheck calls the SubmitCheck RPC.
func (c *CheckClient) SubmitCheck(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SubmitCheckPath, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
