// Package signal defines the gRPC service that carries alert signals into
// the server and the client the agent uses to call it.
//
// The service is obsidian.alerts.v1.SignalService with two unary methods,
// Fire and Resolve. Messages travel as google.protobuf.Struct and are
// mapped to Go types through their JSON form, so no generated code is
// needed on either side.
package signal
