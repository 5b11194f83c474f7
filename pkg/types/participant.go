package types

import (
	"sort"
	"strings"
)

// Participant is one address on a message (from/to/cc/bcc) or on a thread.
type Participant struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// NormalizeEmail lowercases and trims an address so participant comparison
// is stable across providers that vary header casing.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailSet returns the deduplicated, normalized set of addresses.
func EmailSet(participants []Participant) map[string]struct{} {
	set := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		if e := NormalizeEmail(p.Email); e != "" {
			set[e] = struct{}{}
		}
	}
	return set
}

// MergeParticipants adds any participant from extra whose address is not
// already present, and keeps the result sorted by address so that the
// incremental and recompute aggregate paths produce identical slices.
func MergeParticipants(existing, extra []Participant) []Participant {
	seen := EmailSet(existing)
	merged := append([]Participant(nil), existing...)
	for _, p := range extra {
		e := NormalizeEmail(p.Email)
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		merged = append(merged, Participant{Name: p.Name, Email: e})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Email < merged[j].Email })
	return merged
}
