// Package fct implements the File Content Table: a durable, concurrent
// mapping from a file's kernel-level identity to the content hash last
// observed at that identity's current version.
//
// The concurrent map is sharded (grounded on the corpus's
// server/util/lockmap, which solves the adjacent "many sparsely-conflicting
// keys" problem with a sync.Map of per-key mutexes) with each shard's slot
// holding an atomic.Pointer[Entry], so probes are lock-free snapshot reads
// and records are compare-and-swap retry loops — never a process-wide
// mutex.
package fct

import (
	"errors"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/buildbuddy-io/filecontenttable/identity"
	"github.com/buildbuddy-io/filecontenttable/internal/log"
	"github.com/buildbuddy-io/filecontenttable/internal/metrics"
	"github.com/buildbuddy-io/filecontenttable/internal/status"
)

// DefaultTTLCeiling is the typical default_ttl value used across the
// corpus's own cache configs when no caller-specified generation count is
// provided to NewTable; it is not enforced, only offered as a convenience
// default.
const DefaultTTLCeiling = 255

// shard is one partition of the table's concurrent map.
type shard struct {
	m sync.Map // identity.ID -> *atomic.Pointer[Entry]
}

// Table is a durable, concurrent mapping from a file's kernel-level
// identity to the content hash last observed at that identity's current
// version.
type Table struct {
	shards     []*shard
	defaultTTL uint16
	adapter    identity.Adapter
	isStub     bool
	warnOnce   log.OnceFlag
	stats      counters
}

// NewTable constructs a Table backed by the OS-appropriate identity.Adapter,
// with the given process-wide default TTL (typical value 255).
func NewTable(defaultTTL uint16) *Table {
	if defaultTTL == 0 {
		defaultTTL = DefaultTTLCeiling
	}
	return newTable(defaultTTL, identity.NewAdapter(), false)
}

// NewStubTable returns a Table that behaves as if the OS never supports
// versioned identity: every probe misses, every record is a silent no-op
// that returns an anonymous identity.
func NewStubTable() *Table {
	return newTable(0, nil, true)
}

func newTable(defaultTTL uint16, adapter identity.Adapter, isStub bool) *Table {
	numShards := runtime.GOMAXPROCS(0) * 4
	if numShards < 1 {
		numShards = 1
	}
	shards := make([]*shard, numShards)
	for i := range shards {
		shards[i] = &shard{}
	}
	return &Table{
		shards:     shards,
		defaultTTL: defaultTTL,
		adapter:    adapter,
		isStub:     isStub,
	}
}

// IsStub reports whether this Table was constructed with NewStubTable.
func (t *Table) IsStub() bool { return t.isStub }

// DefaultTTL returns the table's configured default TTL.
func (t *Table) DefaultTTL() uint16 { return t.defaultTTL }

// Stats returns a point-in-time snapshot of the table's telemetry
// counters.
func (t *Table) Stats() Stats {
	n := 0
	for _, s := range t.shards {
		s.m.Range(func(_, _ any) bool { n++; return true })
	}
	return t.stats.snapshot(n)
}

func (t *Table) shardFor(id identity.ID) *shard {
	var buf [24]byte
	putID(buf[:], id)
	h := xxhash.Sum64(buf[:])
	return t.shards[h%uint64(len(t.shards))]
}

func putID(buf []byte, id identity.ID) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(id.VolumeID >> (8 * i))
	}
	copy(buf[8:], id.FileID[:])
}

func (t *Table) slotFor(id identity.ID, createIfAbsent bool) *atomic.Pointer[Entry] {
	sh := t.shardFor(id)
	if createIfAbsent {
		v, _ := sh.m.LoadOrStore(id, new(atomic.Pointer[Entry]))
		return v.(*atomic.Pointer[Entry])
	}
	v, ok := sh.m.Load(id)
	if !ok {
		return nil
	}
	return v.(*atomic.Pointer[Entry])
}

func (t *Table) deleteID(id identity.ID) {
	t.shardFor(id).m.Delete(id)
}

// ProbeResult is the non-empty answer from Probe.
type ProbeResult struct {
	ID      identity.ID
	Version identity.Version
	Hash    []byte
	Length  int64
}

// Probe performs the hit-or-miss lookup: it derives the current weak
// identity and version from handle and reports a hit only if an entry is
// stored at that identity with exactly that version. handle must be an
// open file handle on the file identified by path; path is accepted only
// for diagnostics (the table is never keyed by path).
//
// No error from Probe is ever fatal to the caller: every failure mode
// collapses to a miss, with at most a one-time diagnostic.
func (t *Table) Probe(path string, handle *os.File) (ProbeResult, bool) {
	start := time.Now()
	defer func() { metrics.ProbeDurationUsec.Observe(float64(time.Since(start).Microseconds())) }()

	if t.isStub {
		return ProbeResult{}, false
	}

	id, ver, err := t.adapter.QueryWeak(handle)
	if err != nil {
		t.reportUnsupported(err)
		return ProbeResult{}, false
	}

	slot := t.slotFor(id, false)
	if slot == nil {
		t.stats.fileIDMismatch()
		log.Debugf("fct: probe miss (no entry) for %q", path)
		return ProbeResult{}, false
	}
	entry := slot.Load()
	if entry == nil {
		t.stats.fileIDMismatch()
		return ProbeResult{}, false
	}
	if entry.Version != ver.Value {
		// Content may have changed since the last record; treat as a miss.
		metrics.ProbeCount.WithLabelValues("miss").Inc()
		return ProbeResult{}, false
	}

	t.refreshTTL(slot)
	t.stats.hit()
	return ProbeResult{
		ID:      id,
		Version: ver.Promote(),
		Hash:    append([]byte(nil), entry.Hash...),
		Length:  entry.Length,
	}, true
}

// refreshTTL resets an entry's TTL to the table's default on a hit. It is
// a single compare-and-swap attempt, not a retry loop: if the replace
// fails because another thread installed a newer entry, the refresh is
// silently abandoned.
func (t *Table) refreshTTL(slot *atomic.Pointer[Entry]) {
	old := slot.Load()
	if old == nil || old.TTL == t.defaultTTL {
		return
	}
	refreshed := old.clone()
	refreshed.TTL = t.defaultTTL
	slot.CompareAndSwap(old, refreshed)
}

// AnonymousID is returned by Record when the identity adapter cannot
// establish a strong version; the caller's record is silently dropped and
// must treat the file as uncached.
var AnonymousID = identity.ID{}

// Record establishes a strong version for handle and stores hash/length
// under the resulting identity, merging against whatever is already
// stored there. writable tells Record whether handle was opened for
// writing — Go's os.File does not expose its original open flags, so the
// caller, who opened it, supplies this directly. strict overrides the
// writable-derived default when non-nil.
func (t *Table) Record(path string, handle *os.File, writable bool, hash []byte, length int64, strict *bool) (identity.ID, identity.Version) {
	start := time.Now()
	defer func() { metrics.RecordDurationUsec.Observe(float64(time.Since(start).Microseconds())) }()
	metrics.RecordCount.Inc()

	if t.isStub {
		return AnonymousID, identity.Version{}
	}

	effectiveStrict := writable
	if strict != nil {
		effectiveStrict = *strict
	}

	id, ver, err := t.adapter.EstablishStrong(handle, effectiveStrict)
	if err != nil {
		t.reportUnsupported(err)
		return AnonymousID, identity.Version{}
	}

	candidate := &Entry{Version: ver.Value, Hash: hash, Length: length, TTL: t.defaultTTL}
	slot := t.slotFor(id, true)
	for {
		old := slot.Load()
		merged, outcome := mergeRecord(old, candidate)
		if slot.CompareAndSwap(old, merged) {
			switch outcome {
			case mergeReplacedUSNMismatch:
				t.stats.usnMismatch()
			case mergeReplacedContentMismatch:
				t.stats.contentMismatch()
			}
			break
		}
	}
	return id, ver.Promote()
}

func (t *Table) reportUnsupported(err error) {
	if !errors.Is(err, identity.ErrNotSupported) {
		log.Warningf("fct: unexpected identity adapter error: %s", status.Message(status.WrapError(err, "identity adapter")))
		return
	}
	t.warnOnce.Fire(func() {
		unsupported := status.UnavailableErrorf("the filesystem does not support versioned file identity; incremental caching via this table is disabled")
		log.Warningf("fct: %s", status.Message(unsupported))
	})
}

// Fork copies existing's entries into a new table with one TTL decrement
// applied (as Load does), without touching disk. newDefaultTTL, if
// non-zero, replaces the copy's default TTL; otherwise the source's
// default TTL carries over.
func Fork(existing *Table, newDefaultTTL uint16) *Table {
	ttl := existing.defaultTTL
	if newDefaultTTL != 0 {
		ttl = newDefaultTTL
	}
	fresh := newTable(ttl, existing.adapter, existing.isStub)
	if existing.isStub {
		return fresh
	}
	for _, sh := range existing.shards {
		sh.m.Range(func(k, v any) bool {
			id := k.(identity.ID)
			e := v.(*atomic.Pointer[Entry]).Load()
			if e == nil {
				return true
			}
			decayed := decayOne(e, fresh.defaultTTL)
			if decayed == nil {
				return true
			}
			slot := fresh.slotFor(id, true)
			slot.Store(decayed)
			return true
		})
	}
	return fresh
}
