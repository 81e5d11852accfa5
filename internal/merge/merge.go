// Package merge combines cached records with freshly fetched ones,
// deduplicating by stable identifier and keeping a deterministic
// newest-first ordering.
package merge

import (
	"sort"

	"github.com/sells-group/osint-cli/internal/model"
)

// MaxCachedRecords caps how much history a document retains beyond the
// caller's desired count.
const MaxCachedRecords = 200

// Deficit returns how many additional records must be requested from
// the source given what is already cached. This is the sizing rule the
// coordinator passes to fetchers: always the shortfall, never the full
// desired count.
func Deficit(cached, desired int) int {
	d := desired - cached
	if d < 0 {
		return 0
	}
	return d
}

// Records merges incoming records into existing ones. Incoming records
// whose (source, id) key is already present are dropped; survivors are
// combined with the existing set and the result is sorted newest first
// and trimmed to max(desired, MaxCachedRecords). The second return
// value is the number of incoming records that survived dedup.
//
// Merging is idempotent: re-merging the same incoming set yields an
// identical result.
func Records(existing, incoming []model.Record, desired int) ([]model.Record, int) {
	seen := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		seen[r.Key()] = struct{}{}
	}

	merged := make([]model.Record, len(existing), len(existing)+len(incoming))
	copy(merged, existing)

	added := 0
	for _, r := range incoming {
		if _, dup := seen[r.Key()]; dup {
			continue
		}
		seen[r.Key()] = struct{}{}
		merged = append(merged, r)
		added++
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})

	limit := desired
	if limit < MaxCachedRecords {
		limit = MaxCachedRecords
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}

	return merged, added
}

// SeenIDs returns the dedup key set of the given records, for passing
// to fetchers so they can skip already-cached items during pagination.
func SeenIDs(records []model.Record) map[string]struct{} {
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		seen[r.Key()] = struct{}{}
	}
	return seen
}
