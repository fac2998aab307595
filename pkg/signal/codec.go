package signal

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// FireResponse is returned by Fire.
type FireResponse struct {
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint"`
}

// ResolveRequest identifies the alert to resolve, either by Fingerprint or
// by Name plus Labels (the fingerprint is then derived the same way Fire
// derives it).
type ResolveRequest struct {
	Fingerprint string            `json:"fingerprint,omitempty"`
	Name        string            `json:"name,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	ResolvedBy  string            `json:"resolved_by,omitempty"`
}

// ResolveResponse is returned by Resolve.
type ResolveResponse struct {
	Fingerprint string `json:"fingerprint"`
	Resolved    bool   `json:"resolved"`
}

// Encode converts v to a Struct through its JSON encoding.
func Encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("signal: encode: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("signal: encode: %w", err)
	}
	return s, nil
}

// Decode fills v from s through its JSON encoding.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("signal: decode: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("signal: decode: %w", err)
	}
	return nil
}
