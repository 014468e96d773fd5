package fct

// Entry is the value stored under each identity.ID in a Table.
type Entry struct {
	// Version is the strong version observed at the moment Hash was
	// recorded. This is always a strong version, never merely a queried
	// one.
	Version uint64

	// Hash is the content hash, opaque to this package; its length is a
	// constant of whatever hash algorithm the caller uses.
	Hash []byte

	// Length is the file length in bytes at Version.
	Length int64

	// TTL is the generational eviction counter. It is in [0, defaultTTL];
	// 0 means the entry is scheduled for eviction at the next Save.
	TTL uint16
}

func (e *Entry) clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Hash = append([]byte(nil), e.Hash...)
	return &cp
}

// sameHash reports whether two entries carry byte-identical content
// hashes; used by Record's merge rule to distinguish a benign
// re-establishment ("usn_mismatch") from a genuine content change
// ("content_mismatch").
func sameHash(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// mergeRecord implements Record's merge rule, deciding what a newly
// established version should do to whatever is already stored at an
// identity. It is a pure function of (existing, candidate) so it is safe
// to re-run under contention from the table's compare-and-swap retry
// loop: the closure may be invoked more than once under contention, so it
// must be pure.
//
// It returns the entry that should be stored, and a mergeOutcome
// classifying what happened, so the caller can bump the right telemetry
// counter exactly once per successful CAS rather than once per retry.
type mergeOutcome int

const (
	mergeInserted mergeOutcome = iota
	mergeKeptExisting
	mergeReplacedUSNMismatch
	mergeReplacedContentMismatch
	mergeReplacedUnchanged
)

func mergeRecord(existing *Entry, candidate *Entry) (*Entry, mergeOutcome) {
	if existing == nil {
		return candidate, mergeInserted
	}
	if existing.Version > candidate.Version {
		// Another thread recorded a later version concurrently; keep it.
		return existing, mergeKeptExisting
	}
	if sameHash(existing.Hash, candidate.Hash) {
		if existing.Version == candidate.Version {
			// Same version, same bytes: nothing to count.
			return candidate, mergeReplacedUnchanged
		}
		return candidate, mergeReplacedUSNMismatch
	}
	return candidate, mergeReplacedContentMismatch
}
