package security

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/obsidianstack/alertd/agent/internal/config"
)

const dialTimeout = 10 * time.Second

// Certificate status values.
const (
	StatusValid    = "valid"
	StatusExpiring = "expiring"
	StatusExpired  = "expired"
)

// CertStatus describes an endpoint's leaf certificate.
type CertStatus struct {
	Endpoint string
	Issuer   string
	NotAfter time.Time
	DaysLeft int
	Status   string
}

// Check dials the TLS endpoint and describes its leaf certificate as of
// now. warnDays decides when a certificate counts as expiring. An error
// means the endpoint could not be inspected.
func Check(ctx context.Context, ep config.CertEndpoint, now time.Time, warnDays int) (CertStatus, error) {
	cs := CertStatus{Endpoint: ep.Endpoint}

	u, err := url.Parse(ep.Endpoint)
	if err != nil || u.Scheme != "https" {
		return cs, fmt.Errorf("certs: %q is not an https endpoint", ep.Endpoint)
	}
	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			ServerName:         u.Hostname(),
			InsecureSkipVerify: ep.InsecureSkipVerify, //nolint:gosec
		},
	}
	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		return cs, fmt.Errorf("certs: dial %s: %w", host, err)
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peers := conn.ConnectionState().PeerCertificates
	if len(peers) == 0 {
		return cs, errors.New("certs: no peer certificate presented")
	}

	leaf := peers[0]
	daysLeft := leaf.NotAfter.Sub(now).Hours() / 24
	cs.NotAfter = leaf.NotAfter.UTC()
	cs.Issuer = leaf.Issuer.CommonName
	cs.DaysLeft = int(math.Floor(daysLeft))

	switch {
	case daysLeft <= 0:
		cs.Status = StatusExpired
	case cs.DaysLeft <= warnDays:
		cs.Status = StatusExpiring
	default:
		cs.Status = StatusValid
	}
	return cs, nil
}
