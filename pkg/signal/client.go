package signal

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/obsidianstack/alertd/pkg/types"
)

// Client calls SignalService.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Fire sends sig and returns the id and fingerprint of the alert it landed on.
func (c *Client) Fire(ctx context.Context, sig types.Signal, opts ...grpc.CallOption) (FireResponse, error) {
	var out FireResponse
	err := c.call(ctx, FireMethod, sig, &out, opts...)
	return out, err
}

// Resolve resolves the alert identified by req.
func (c *Client) Resolve(ctx context.Context, req ResolveRequest, opts ...grpc.CallOption) (ResolveResponse, error) {
	var out ResolveResponse
	err := c.call(ctx, ResolveMethod, req, &out, opts...)
	return out, err
}

func (c *Client) call(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	req, err := Encode(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, resp, opts...); err != nil {
		return err
	}
	return Decode(resp, out)
}
