// Package api implements the HTTP REST API for alertd.
//
// New(manager) returns an http.Handler that serves:
//
//	GET    /api/v1/health              alert counts per status, active silences
//	GET    /api/v1/alerts              list; ?status= &severity= &source= &since= &limit=
//	POST   /api/v1/alerts              fire a signal, returns {"id","fingerprint"}
//	GET    /api/v1/alerts/{id}         one alert plus diagnostic hints; 404 if unknown
//	POST   /api/v1/alerts/{id}/ack     {"by","comment"}; 409 unless firing
//	POST   /api/v1/alerts/resolve      {"fingerprint"} or {"name","labels"}, plus "resolved_by"
//	GET    /api/v1/stats               ?timeframe=1h (default 24h; "all" or 0 for no window)
//	GET    /api/v1/silences            all silences
//	POST   /api/v1/silences            {"matchers","duration","created_by","comment"}
//	DELETE /api/v1/silences/{id}       404 if unknown
//
// All endpoints:
//   - Respond with Content-Type: application/json
//   - Return 405 for methods a route does not serve
//   - Return 400 with {"error": "..."} for malformed bodies or query values
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
