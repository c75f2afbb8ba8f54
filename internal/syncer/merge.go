package syncer

import (
	"sort"

	"github.com/moromii/receipt-ledger/internal/expense"
)

// Merge reconciles two independently evolved record collections into one
// deduplicated set, last writer wins.
//
// The working map is seeded with every local record. A remote record is
// inserted when its id is unknown and overwrites only when its UpdatedAt is
// strictly newer, so equal timestamps deterministically keep the local copy.
// Tombstones participate like any other record: a newer tombstone beats an
// older active record and vice versa.
//
// The result holds exactly one record per distinct id in either input,
// sorted by date descending. Records sharing a date have no defined
// relative order.
func Merge(local, remote []expense.Record) []expense.Record {
	byID := make(map[string]expense.Record, len(local)+len(remote))
	for _, rec := range local {
		byID[rec.ID] = rec
	}

	for _, rec := range remote {
		existing, ok := byID[rec.ID]
		if !ok || rec.UpdatedAt.After(existing.UpdatedAt) {
			byID[rec.ID] = rec
		}
	}

	merged := make([]expense.Record, 0, len(byID))
	for _, rec := range byID {
		merged = append(merged, rec)
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date > merged[j].Date
	})

	return merged
}
