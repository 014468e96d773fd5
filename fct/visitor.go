package fct

import (
	"os"
	"sync/atomic"

	"github.com/buildbuddy-io/filecontenttable/identity"
	"github.com/buildbuddy-io/filecontenttable/internal/log"
)

// Accessor is an external collaborator: a reverse lookup from a live
// identity back to an openable handle and its path, so the visitor can
// re-derive a weak version for comparison. This module never implements
// file-identity-to-handle resolution itself.
type Accessor interface {
	// Open returns a handle for id opened with the given share mode (an
	// opaque, platform-defined value the accessor interprets), and the
	// path it was opened at, or ok=false if id could no longer be opened.
	Open(id identity.ID, shareMode int) (handle *os.File, path string, ok bool)
}

// VisitFunc is invoked once per live, still-current entry during Visit.
// Returning false aborts iteration.
type VisitFunc func(id identity.ID, handle *os.File, path string, version identity.Version, hash []byte) bool

// Visit iterates live entries, reopening each by identity through
// accessor, and invokes fn for every identity whose current weak version
// still matches the stored entry. Visit never mutates entries; a mismatch
// or an identity Accessor can't open is silently skipped, logged at debug
// level.
func (t *Table) Visit(accessor Accessor, shareMode int, fn VisitFunc) {
	if t.isStub {
		return
	}
	for _, sh := range t.shards {
		cont := true
		sh.m.Range(func(k, v any) bool {
			id := k.(identity.ID)
			entry := v.(*atomic.Pointer[Entry]).Load()
			if entry == nil {
				return true
			}

			handle, path, ok := accessor.Open(id, shareMode)
			if !ok {
				log.Debugf("fct: visit: identity not openable, skipping")
				return true
			}
			defer handle.Close()

			_, version, err := t.adapter.QueryWeak(handle)
			if err != nil || version.Value != entry.Version {
				log.Debugf("fct: visit: %q no longer matches stored version, skipping", path)
				return true
			}

			if !fn(id, handle, path, version.Promote(), append([]byte(nil), entry.Hash...)) {
				cont = false
				return false
			}
			return true
		})
		if !cont {
			return
		}
	}
}
