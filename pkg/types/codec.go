package types

import (
	"encoding/json"
	"fmt"
)

// Typed codecs for the JSON-encoded columns at the persistence boundary.
// Decoders treat absent/empty input as the documented default (empty slice,
// zero struct, nil pointer) instead of failing, matching the accessor
// contracts for persisted state.

// EncodeParticipants serializes a participant list; nil encodes as "[]".
func EncodeParticipants(ps []Participant) (string, error) {
	if ps == nil {
		ps = []Participant{}
	}
	raw, err := json.Marshal(ps)
	if err != nil {
		return "", fmt.Errorf("encode participants: %w", err)
	}
	return string(raw), nil
}

// DecodeParticipants deserializes a participant column; absent decodes to an
// empty slice.
func DecodeParticipants(raw string) ([]Participant, error) {
	if raw == "" || raw == "null" {
		return []Participant{}, nil
	}
	var ps []Participant
	if err := json.Unmarshal([]byte(raw), &ps); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	if ps == nil {
		ps = []Participant{}
	}
	return ps, nil
}

// EncodeSyncState serializes a folder's sync state.
func EncodeSyncState(s SyncState) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode sync state: %w", err)
	}
	return string(raw), nil
}

// DecodeSyncState deserializes a sync state column; absent decodes to the
// zero state (never-synced folder).
func DecodeSyncState(raw string) (SyncState, error) {
	if raw == "" || raw == "null" {
		return SyncState{}, nil
	}
	var s SyncState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return SyncState{}, fmt.Errorf("decode sync state: %w", err)
	}
	return s, nil
}

// EncodeSyncPolicy serializes an account's sync policy.
func EncodeSyncPolicy(p SyncPolicy) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode sync policy: %w", err)
	}
	return string(raw), nil
}

// DecodeSyncPolicy deserializes a sync policy column; absent decodes to the
// zero policy (callers fill defaults via Account.Policy).
func DecodeSyncPolicy(raw string) (SyncPolicy, error) {
	if raw == "" || raw == "null" {
		return SyncPolicy{}, nil
	}
	var p SyncPolicy
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return SyncPolicy{}, fmt.Errorf("decode sync policy: %w", err)
	}
	return p, nil
}

// EncodeSyncError serializes an account sync error; nil encodes as "".
func EncodeSyncError(e *SyncError) (string, error) {
	if e == nil {
		return "", nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode sync error: %w", err)
	}
	return string(raw), nil
}

// DecodeSyncError deserializes a sync error column; absent decodes to nil.
func DecodeSyncError(raw string) (*SyncError, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var e SyncError
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("decode sync error: %w", err)
	}
	return &e, nil
}

// EncodeStrings serializes a string list; nil encodes as "[]".
func EncodeStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	raw, err := json.Marshal(ss)
	if err != nil {
		return "", fmt.Errorf("encode string list: %w", err)
	}
	return string(raw), nil
}

// DecodeStrings deserializes a string list column; absent decodes to an
// empty slice.
func DecodeStrings(raw string) ([]string, error) {
	if raw == "" || raw == "null" {
		return []string{}, nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(raw), &ss); err != nil {
		return nil, fmt.Errorf("decode string list: %w", err)
	}
	if ss == nil {
		ss = []string{}
	}
	return ss, nil
}
