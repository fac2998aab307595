package auth

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/alertd/pkg/signal"
)

func okHandler(context.Context, interface{}) (interface{}, error) {
	return "ok", nil
}

// invoke runs interceptor for method with md as incoming metadata (none
// when md is nil).
func invoke(i grpc.UnaryServerInterceptor, method string, md metadata.MD) error {
	ctx := context.Background()
	if md != nil {
		ctx = metadata.NewIncomingContext(ctx, md)
	}
	res, err := i(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, okHandler)
	if err == nil && res != "ok" {
		return status.Error(codes.Internal, "handler not called")
	}
	return err
}

func TestAPIKeyInterceptor_Disabled(t *testing.T) {
	for _, i := range []grpc.UnaryServerInterceptor{
		APIKeyInterceptor("none", "x-api-key", "secret"),
		APIKeyInterceptor("apikey", "x-api-key", ""),
	} {
		if err := invoke(i, signal.FireMethod, nil); err != nil {
			t.Errorf("disabled auth rejected call: %v", err)
		}
	}
}

func TestAPIKeyInterceptor_Keys(t *testing.T) {
	i := APIKeyInterceptor("apikey", "x-api-key", "supersecret")
	cases := []struct {
		name string
		md   metadata.MD
		want codes.Code
	}{
		{"correct", metadata.Pairs("x-api-key", "supersecret"), codes.OK},
		{"wrong", metadata.Pairs("x-api-key", "nope"), codes.Unauthenticated},
		{"prefix of key", metadata.Pairs("x-api-key", "super"), codes.Unauthenticated},
		{"missing header", metadata.MD{}, codes.Unauthenticated},
		{"no metadata", nil, codes.Unauthenticated},
	}
	for _, c := range cases {
		if got := status.Code(invoke(i, signal.FireMethod, c.md)); got != c.want {
			t.Errorf("%s: code %v, want %v", c.name, got, c.want)
		}
	}
}

func TestAPIKeyInterceptor_HeaderCaseInsensitive(t *testing.T) {
	i := APIKeyInterceptor("apikey", "X-Obs-Token", "mytoken")
	// metadata.Pairs lowercases keys, as gRPC does on the wire.
	if err := invoke(i, signal.ResolveMethod, metadata.Pairs("X-Obs-Token", "mytoken")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAPIKeyInterceptor_HealthExempt(t *testing.T) {
	i := APIKeyInterceptor("apikey", "x-api-key", "supersecret")
	if err := invoke(i, "/grpc.health.v1.Health/Check", nil); err != nil {
		t.Errorf("health check rejected: %v", err)
	}
}

func TestAPIKeyInterceptor_Rotation(t *testing.T) {
	i := APIKeyInterceptor("apikey", "x-api-key", "new-key", "", "old-key")
	for _, k := range []string{"new-key", "old-key"} {
		if err := invoke(i, signal.FireMethod, metadata.Pairs("x-api-key", k)); err != nil {
			t.Errorf("%s rejected: %v", k, err)
		}
	}
	if code := status.Code(invoke(i, signal.FireMethod, metadata.Pairs("x-api-key", ""))); code != codes.Unauthenticated {
		t.Errorf("empty key: code %v, want Unauthenticated", code)
	}
}
