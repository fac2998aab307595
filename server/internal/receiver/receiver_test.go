package receiver_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/alertd/pkg/labels"
	"github.com/obsidianstack/alertd/pkg/signal"
	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/auth"
	"github.com/obsidianstack/alertd/server/internal/receiver"
	"github.com/obsidianstack/alertd/server/internal/senders"
)

type fakeManager struct {
	mu       sync.Mutex
	fired    []types.Signal
	resolved map[string]bool
}

func (m *fakeManager) Fire(sig types.Signal) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fired = append(m.fired, sig)
	return "alert-1"
}

func (m *fakeManager) Resolve(fp, _ string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolved == nil {
		m.resolved = make(map[string]bool)
	}
	if m.resolved[fp] {
		return false
	}
	m.resolved[fp] = true
	return true
}

// startServer starts a gRPC server on a random port with interceptor and
// returns a connected client.
func startServer(t *testing.T, interceptor grpc.UnaryServerInterceptor, opts ...receiver.Option) (*signal.Client, *fakeManager) {
	t.Helper()

	mgr := &fakeManager{}
	srv := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	signal.RegisterServer(srv, receiver.New(mgr, opts...))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(lis) //nolint:errcheck
	t.Cleanup(srv.Stop)

	conn, err := grpc.Dial(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	) //nolint:staticcheck
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return signal.NewClient(conn), mgr
}

func allowAll(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	return handler(ctx, req)
}

func TestFire_ForwardsSignal(t *testing.T) {
	client, mgr := startServer(t, allowAll)

	sig := types.Signal{
		Name:         "HighCPU",
		Severity:     types.SeverityCritical,
		Source:       "node-exporter",
		CurrentValue: 97,
		Labels:       map[string]string{"host": "db-1"},
	}
	resp, err := client.Fire(context.Background(), sig)
	if err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if resp.ID != "alert-1" {
		t.Errorf("ID: got %q", resp.ID)
	}
	if want := labels.Fingerprint(labels.Identity("HighCPU", sig.Labels)); resp.Fingerprint != want {
		t.Errorf("Fingerprint: got %q, want %q", resp.Fingerprint, want)
	}
	if len(mgr.fired) != 1 || mgr.fired[0].CurrentValue != 97 || mgr.fired[0].Labels["host"] != "db-1" {
		t.Errorf("manager received: %+v", mgr.fired)
	}
}

func TestFire_Invalid(t *testing.T) {
	client, mgr := startServer(t, allowAll)

	for _, sig := range []types.Signal{
		{Severity: types.SeverityInfo},
		{Name: "X", Severity: "urgent"},
	} {
		_, err := client.Fire(context.Background(), sig)
		if code := status.Code(err); code != codes.InvalidArgument {
			t.Errorf("%+v: code %v, want InvalidArgument", sig, code)
		}
	}
	if len(mgr.fired) != 0 {
		t.Errorf("invalid signals reached manager: %d", len(mgr.fired))
	}
}

func TestResolve_ByNameAndLabels(t *testing.T) {
	client, _ := startServer(t, allowAll)
	lbls := map[string]string{"host": "db-1"}

	resp, err := client.Resolve(context.Background(), signal.ResolveRequest{Name: "HighCPU", Labels: lbls})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !resp.Resolved || resp.Fingerprint != labels.Fingerprint(labels.Identity("HighCPU", lbls)) {
		t.Errorf("first resolve: %+v", resp)
	}

	resp, err = client.Resolve(context.Background(), signal.ResolveRequest{Fingerprint: resp.Fingerprint})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resp.Resolved {
		t.Error("second resolve: got true, want false")
	}
}

func TestResolve_MissingIdentity(t *testing.T) {
	client, _ := startServer(t, allowAll)
	_, err := client.Resolve(context.Background(), signal.ResolveRequest{ResolvedBy: "ops"})
	if code := status.Code(err); code != codes.InvalidArgument {
		t.Errorf("code: got %v, want InvalidArgument", code)
	}
}

func TestFire_APIKey(t *testing.T) {
	client, _ := startServer(t, auth.APIKeyInterceptor("apikey", "x-api-key", "secret"))
	sig := types.Signal{Name: "HighCPU"}

	_, err := client.Fire(context.Background(), sig)
	if code := status.Code(err); code != codes.Unauthenticated {
		t.Fatalf("without key: code %v, want Unauthenticated", code)
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "secret")
	if _, err := client.Fire(ctx, sig); err != nil {
		t.Errorf("with key: %v", err)
	}
}

func TestTracker_RecordsPeerHost(t *testing.T) {
	reg := senders.New(time.Minute)
	client, _ := startServer(t, allowAll, receiver.WithTracker(reg))

	if _, err := client.Fire(context.Background(), types.Signal{Name: "HighCPU"}); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if _, err := client.Resolve(context.Background(), signal.ResolveRequest{Name: "HighCPU"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// Rejected signals are not counted.
	_, _ = client.Fire(context.Background(), types.Signal{})

	e, ok := reg.Get("127.0.0.1")
	if !ok {
		t.Fatalf("no entry for 127.0.0.1: %+v", reg.List())
	}
	if e.Fired != 1 || e.Resolved != 1 {
		t.Errorf("fired=%d resolved=%d, want 1/1", e.Fired, e.Resolved)
	}
}
