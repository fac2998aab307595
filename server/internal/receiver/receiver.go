package receiver

import (
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/obsidianstack/alertd/pkg/labels"
	"github.com/obsidianstack/alertd/pkg/signal"
	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/senders"
)

// Manager is the part of the alert manager the receiver drives.
type Manager interface {
	Fire(sig types.Signal) string
	Resolve(fingerprint, resolvedBy string) bool
}

// Tracker records which peer sent an accepted signal.
type Tracker interface {
	Seen(sender, kind string)
}

// Receiver implements signal.Server on top of a Manager.
type Receiver struct {
	mgr     Manager
	tracker Tracker
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithTracker records the peer host of every accepted signal in t.
func WithTracker(t Tracker) Option {
	return func(r *Receiver) { r.tracker = t }
}

// New creates a Receiver that forwards accepted signals to mgr.
func New(mgr Manager, opts ...Option) *Receiver {
	r := &Receiver{mgr: mgr}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Receiver) track(ctx context.Context, kind string) {
	if r.tracker == nil {
		return
	}
	var sender string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		sender = p.Addr.String()
		if host, _, err := net.SplitHostPort(sender); err == nil {
			sender = host
		}
	}
	r.tracker.Seen(sender, kind)
}

// Fire validates the signal and hands it to the manager.
// Authentication is enforced by the gRPC server interceptor before this is called.
func (r *Receiver) Fire(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var sig types.Signal
	if err := signal.Decode(req, &sig); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if sig.Name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}
	if sig.Severity != "" && !sig.Severity.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "severity %q unknown", sig.Severity)
	}

	id := r.mgr.Fire(sig)
	r.track(ctx, senders.KindFire)
	fp := labels.Fingerprint(labels.Identity(sig.Name, sig.Labels))

	slog.Debug("receiver: signal accepted",
		"alert_id", id,
		"fingerprint", fp,
		"name", sig.Name,
		"source", sig.Source,
		"value", sig.CurrentValue,
	)
	return encode(signal.FireResponse{ID: id, Fingerprint: fp})
}

// Resolve resolves by fingerprint, or by name and labels when no
// fingerprint is given.
func (r *Receiver) Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in signal.ResolveRequest
	if err := signal.Decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	fp := in.Fingerprint
	if fp == "" {
		if in.Name == "" {
			return nil, status.Error(codes.InvalidArgument, "fingerprint or name is required")
		}
		fp = labels.Fingerprint(labels.Identity(in.Name, in.Labels))
	}

	ok := r.mgr.Resolve(fp, in.ResolvedBy)
	r.track(ctx, senders.KindResolve)
	slog.Debug("receiver: resolve", "fingerprint", fp, "resolved", ok)
	return encode(signal.ResolveResponse{Fingerprint: fp, Resolved: ok})
}

func encode(v any) (*structpb.Struct, error) {
	s, err := signal.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}
