package shipper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/alertd/agent/internal/config"
	"github.com/obsidianstack/alertd/pkg/labels"
	"github.com/obsidianstack/alertd/pkg/signal"
	"github.com/obsidianstack/alertd/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
)

type kind int

const (
	kindFire kind = iota
	kindResolve
)

// event is one queued call to the server.
type event struct {
	kind    kind
	fire    types.Signal
	resolve signal.ResolveRequest
}

func (e event) fingerprint() string {
	if e.kind == kindResolve {
		return e.resolve.Fingerprint
	}
	return labels.Fingerprint(labels.Identity(e.fire.Name, e.fire.Labels))
}

// Shipper queues fire and resolve events and sends them to alertd via gRPC
// in the order they were queued. Fire and Resolve never block; when the
// buffer is full the oldest event is evicted.
// Run must be called in a goroutine to drain the buffer and reconnect.
type Shipper struct {
	cfg    config.AgentConfig
	extra  map[string]string
	buf    chan event
	dialFn dialFunc // injectable for tests

	// head is an event whose send failed transiently. It is retried before
	// anything else in buf so a resolve never overtakes its fire.
	head *event
}

// dialFunc is the function signature used to open a gRPC connection.
type dialFunc func(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error)

// New creates a Shipper. extra labels are added to every fired signal
// unless the signal already carries the key.
func New(cfg config.AgentConfig, extra map[string]string) *Shipper {
	return &Shipper{
		cfg:    cfg,
		extra:  extra,
		buf:    make(chan event, cfg.BufferSize),
		dialFn: defaultDial,
	}
}

// Fire queues sig and returns the fingerprint the server will file it
// under. It satisfies rules.Firer.
func (s *Shipper) Fire(sig types.Signal) string {
	if len(s.extra) > 0 {
		lbls := make(map[string]string, len(sig.Labels)+len(s.extra))
		for k, v := range s.extra {
			lbls[k] = v
		}
		for k, v := range sig.Labels {
			lbls[k] = v
		}
		sig.Labels = lbls
	}
	ev := event{kind: kindFire, fire: sig}
	s.enqueue(ev)
	return ev.fingerprint()
}

// Resolve queues a resolve for fingerprint. The outcome is only known once
// the server answers, so it always reports true.
func (s *Shipper) Resolve(fingerprint, resolvedBy string) bool {
	s.enqueue(event{kind: kindResolve, resolve: signal.ResolveRequest{
		Fingerprint: fingerprint,
		ResolvedBy:  resolvedBy,
	}})
	return true
}

// Fingerprint returns the fingerprint Fire would report for name and lbls,
// extra labels included.
func (s *Shipper) Fingerprint(name string, lbls map[string]string) string {
	merged := make(map[string]string, len(lbls)+len(s.extra))
	for k, v := range s.extra {
		merged[k] = v
	}
	for k, v := range lbls {
		merged[k] = v
	}
	return labels.Fingerprint(labels.Identity(name, merged))
}

// enqueue never blocks: while the buffer is full it evicts the oldest
// event and tries again, so concurrent producers cannot strand each other.
func (s *Shipper) enqueue(ev event) {
	for {
		select {
		case s.buf <- ev:
			return
		default:
		}
		select {
		case old := <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest event",
				"fingerprint", old.fingerprint(), "buffer_cap", cap(s.buf))
		default:
		}
	}
}

// Run drains the buffer, sending events to the server.
// It reconnects with exponential backoff when the connection is lost.
// Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dialFn(ctx, s.cfg.ServerEndpoint, s.cfg)
		if err != nil {
			wait := bo.next()
			slog.Error("shipper: dial failed, will retry",
				"endpoint", s.cfg.ServerEndpoint,
				"err", err,
				"retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		slog.Info("shipper: connected", "endpoint", s.cfg.ServerEndpoint)
		bo.reset()

		err = s.drain(ctx, signal.NewClient(conn))
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("shipper: connection lost, will reconnect",
			"endpoint", s.cfg.ServerEndpoint,
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// drain sends events until a transient failure or ctx is cancelled.
func (s *Shipper) drain(ctx context.Context, client *signal.Client) error {
	for {
		var ev event
		if s.head != nil {
			ev, s.head = *s.head, nil
		} else {
			select {
			case <-ctx.Done():
				return nil
			case ev = <-s.buf:
			}
		}

		if err := s.send(ctx, client, ev); err != nil {
			// Permanent errors (unauthenticated, invalid argument) → log and discard.
			// Transient errors (unavailable, deadline exceeded) → reconnect and retry.
			if isPermanentError(err) {
				slog.Error("shipper: permanent send error, discarding event",
					"fingerprint", ev.fingerprint(), "err", err)
				continue
			}
			s.head = &ev
			return fmt.Errorf("send: %w", err)
		}
	}
}

func (s *Shipper) send(ctx context.Context, client *signal.Client, ev event) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if s.cfg.ServerAuth.Mode == "apikey" {
		sendCtx = metadata.AppendToOutgoingContext(sendCtx,
			s.cfg.ServerAuth.EffectiveHeader(), s.cfg.ServerAuth.Key())
	}

	switch ev.kind {
	case kindResolve:
		resp, err := client.Resolve(sendCtx, ev.resolve)
		if err != nil {
			return err
		}
		slog.Debug("shipper: resolve delivered", "fingerprint", resp.Fingerprint, "resolved", resp.Resolved)
	default:
		resp, err := client.Fire(sendCtx, ev.fire)
		if err != nil {
			return err
		}
		slog.Debug("shipper: signal delivered", "alert_id", resp.ID, "fingerprint", resp.Fingerprint)
	}
	return nil
}

// isPermanentError returns true for gRPC errors that indicate the event
// itself is invalid and should not be retried.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}

// defaultDial opens a gRPC connection to endpoint with auth configured from cfg.
func defaultDial(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.DialContext(ctx, endpoint, opts...) //nolint:staticcheck // DialContext kept for grpc 1.62
}

// dialOptions builds grpc.DialOption slice based on the server auth config.
func dialOptions(cfg config.AgentConfig) ([]grpc.DialOption, error) {
	switch cfg.ServerAuth.Mode {
	case "mtls":
		creds, err := buildMTLSCreds(cfg.ServerAuth)
		if err != nil {
			return nil, fmt.Errorf("shipper: build mtls creds: %w", err)
		}
		return []grpc.DialOption{grpc.WithTransportCredentials(creds)}, nil

	default: // apikey is sent per call; "none" is plaintext for local dev
		return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
	}
}

// buildMTLSCreds loads client certificate and optional CA from the auth config.
func buildMTLSCreds(auth config.AuthConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return credentials.NewTLS(tlsCfg), nil
}

// backoff implements truncated exponential backoff with ±25% jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
