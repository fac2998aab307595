// Package security watches TLS certificates of configured https endpoints
// and raises CertificateExpiring alerts through the agent's signal path.
//
// Check dials an endpoint and reports the leaf certificate's issuer,
// expiry and days left. Monitor runs Check on an interval: a certificate
// inside warn_days fires a warning, inside critical_days a critical alert,
// and a renewed certificate resolves the alert.
package security
