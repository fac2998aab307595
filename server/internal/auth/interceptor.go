package auth

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Health checks stay open so load balancers can check liveness without a key.
const healthPrefix = "/grpc.health.v1.Health/"

// APIKeyInterceptor guards unary calls with an API key read from the
// header metadata entry. Any of keys is accepted, which lets a new key be
// rolled out before the old one is withdrawn. Empty keys are ignored; with
// no usable key, or a mode other than "apikey", every call passes.
func APIKeyInterceptor(mode, header string, keys ...string) grpc.UnaryServerInterceptor {
	header = strings.ToLower(header)
	var accepted [][]byte
	for _, k := range keys {
		if k != "" {
			accepted = append(accepted, []byte(k))
		}
	}
	enabled := mode == "apikey" && len(accepted) > 0

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !enabled || (info != nil && strings.HasPrefix(info.FullMethod, healthPrefix)) {
			return handler(ctx, req)
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		vals := md.Get(header)
		if len(vals) == 0 || !matchAny(accepted, []byte(vals[0])) {
			return nil, status.Error(codes.Unauthenticated, "invalid api key")
		}
		return handler(ctx, req)
	}
}

// matchAny compares got against every key so timing does not reveal
// which one matched.
func matchAny(keys [][]byte, got []byte) bool {
	match := 0
	for _, k := range keys {
		match |= subtle.ConstantTimeCompare(k, got)
	}
	return match == 1
}
