// Package receiver implements the gRPC SignalService endpoint that accepts
// alert signals from agents and other producers.
//
// Fire requires a non-empty name and, when given, a known severity
// (codes.InvalidArgument otherwise). Resolve accepts either a fingerprint
// or the name and labels the signal was fired with. Authentication is
// enforced upstream by the interceptor in package auth. WithTracker records
// the peer host of each accepted call.
package receiver
