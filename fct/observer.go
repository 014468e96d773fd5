package fct

import (
	"github.com/google/btree"

	"github.com/buildbuddy-io/filecontenttable/identity"
)

// LinkImpact classifies how a change-journal record affects an identity's
// links.
type LinkImpact int

const (
	LinkImpactNone LinkImpact = iota
	LinkImpactSingleLink
	LinkImpactAllLinks
)

// ChangedFileIdInfo is one event from the change-journal scanner, an
// external collaborator this package never implements itself.
type ChangedFileIdInfo struct {
	Identity           identity.ID
	LastTrackedVersion uint64
	RecordVersion      uint64
	LinkImpact         LinkImpact
}

// Observer applies journal-derived mutation and removal events to a
// Table's live entries. It holds no reference to anything beyond the
// Table it was built from and the scan it's currently processing.
type Observer struct {
	table *Table

	// updatedThisPass tracks identities already promoted in the current
	// scan pass. A gazette-style ordered set (github.com/google/btree,
	// already an indirect dependency of the corpus this module was
	// grounded on) is used instead of a plain map so a future batched-scan
	// optimization can range-query the pass set by identity order; for the
	// sizes a single scan pass handles, a map would suffice, but the
	// ordering is free, and it exercises a dependency that otherwise sits
	// unused as an indirect requirement.
	updatedThisPass *btree.BTreeG[identity.ID]
}

func idLess(a, b identity.ID) bool { return a.Compare(b) < 0 }

// Observer returns the sink journal events are delivered to.
func (t *Table) Observer() *Observer {
	return &Observer{table: t}
}

// BeginScan clears per-pass state; call it once at the start of each scan.
func (o *Observer) BeginScan() {
	o.updatedThisPass = btree.NewG(32, idLess)
}

// EndScan flushes per-scan counters into the telemetry collector. The
// flush is a no-op here because this implementation updates the shared
// counters incrementally; the explicit call exists so a batching
// implementation has somewhere to put a deferred flush.
func (o *Observer) EndScan() {
	o.updatedThisPass = nil
}

// Apply processes one journal event.
func (o *Observer) Apply(event ChangedFileIdInfo) {
	if o.table.isStub {
		return
	}
	slot := o.table.slotFor(event.Identity, false)
	if slot == nil {
		return
	}
	entry := slot.Load()
	if entry == nil || event.RecordVersion <= entry.Version {
		return
	}

	if event.LinkImpact == LinkImpactAllLinks {
		o.table.deleteID(event.Identity)
		o.table.stats.removedByScan()
		return
	}

	alreadyUpdated := o.updatedThisPass != nil && o.updatedThisPass.Has(event.Identity)
	matchesLastTracked := entry.Version == event.LastTrackedVersion
	if !alreadyUpdated && !matchesLastTracked {
		// Guards against unrelated records racing the same identity; only
		// a record that continues a promotion already made this pass, or
		// one that matches what the scanner last saw, may advance the
		// entry.
		return
	}

	for {
		old := slot.Load()
		if old == nil || event.RecordVersion <= old.Version {
			return
		}
		updated := old.clone()
		updated.Version = event.RecordVersion
		if slot.CompareAndSwap(old, updated) {
			break
		}
	}
	if o.updatedThisPass != nil {
		o.updatedThisPass.ReplaceOrInsert(event.Identity)
	}
	o.table.stats.updatedByScan()
}
