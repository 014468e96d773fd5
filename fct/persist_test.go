package fct

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildbuddy-io/filecontenttable/identity"
)

var testAlgo = Algorithm{Name: "blake3", Size: 32}

func hashOf(b byte) []byte {
	h := make([]byte, testAlgo.Size)
	h[0] = b
	return h
}

// Property 1: round-trip. save then load yields a table whose raw entries
// are unchanged save for the one TTL decrement load always applies.
func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fct.bin")

	table := newTable(10, identity.NewAdapter(), false)
	id := testID(1)
	table.putRaw(id, &Entry{Version: 42, Hash: hashOf(7), Length: 100, TTL: 10})

	require.NoError(t, Save(table, path, testAlgo))

	loaded, ok := Load(path, testAlgo, 10)
	require.True(t, ok)

	got := loaded.getRaw(id)
	require.NotNil(t, got)
	require.Equal(t, uint64(42), got.Version)
	require.Equal(t, hashOf(7), got.Hash)
	require.Equal(t, int64(100), got.Length)
	require.Equal(t, uint16(9), got.TTL)
}

// Property 3 / S5: TTL decays by one per save/load cycle and the entry
// disappears once it has decayed past zero.
func TestTTLDecayOverCycles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fct.bin")

	table := newTable(2, identity.NewAdapter(), false)
	id := testID(1)
	table.putRaw(id, &Entry{Version: 1, Hash: hashOf(1), Length: 1, TTL: 2})

	for cycle := 0; cycle < 4; cycle++ {
		require.NoError(t, Save(table, path, testAlgo))
		loaded, ok := Load(path, testAlgo, 2)
		require.True(t, ok)
		table = loaded
	}

	require.Nil(t, table.getRaw(id))
}

// Property 4: a hit between cycles resets the TTL clock.
func TestHitResetsTTLAcrossCycles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fct.bin")

	table := newTable(2, identity.NewAdapter(), false)
	id := testID(1)
	table.putRaw(id, &Entry{Version: 1, Hash: hashOf(1), Length: 1, TTL: 2})

	require.NoError(t, Save(table, path, testAlgo))
	loaded, ok := Load(path, testAlgo, 2)
	require.True(t, ok)
	table = loaded
	require.Equal(t, uint16(1), table.getRaw(id).TTL)

	// Simulate a hit: refresh the TTL back to the default.
	table.refreshTTL(table.slotFor(id, false))
	require.Equal(t, uint16(2), table.getRaw(id).TTL)

	for cycle := 0; cycle < 2; cycle++ {
		require.NoError(t, Save(table, path, testAlgo))
		loaded, ok = Load(path, testAlgo, 2)
		require.True(t, ok)
		table = loaded
	}
	require.Equal(t, uint16(0), table.getRaw(id).TTL)
}

// Entries with ttl=0 at save time are skipped (evicted), never written.
func TestSaveSkipsEvictedEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fct.bin")

	table := newTable(5, identity.NewAdapter(), false)
	table.putRaw(testID(1), &Entry{Version: 1, Hash: hashOf(1), Length: 1, TTL: 0})
	table.putRaw(testID(2), &Entry{Version: 2, Hash: hashOf(2), Length: 2, TTL: 5})

	require.NoError(t, Save(table, path, testAlgo))
	loaded, ok := Load(path, testAlgo, 5)
	require.True(t, ok)

	require.Nil(t, loaded.getRaw(testID(1)))
	require.NotNil(t, loaded.getRaw(testID(2)))
}

// Property 8: corruption safety. Flipping a byte in the body invalidates
// the checksum and Load reports absence rather than a partial table.
func TestLoadRejectsCorruptBody(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fct.bin")

	table := newTable(5, identity.NewAdapter(), false)
	table.putRaw(testID(1), &Entry{Version: 1, Hash: hashOf(1), Length: 1, TTL: 5})
	require.NoError(t, Save(table, path, testAlgo))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	corrupt := append([]byte(nil), raw...)
	corrupt[len(corrupt)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, corrupt, 0644))

	_, ok := Load(path, testAlgo, 5)
	require.False(t, ok)
}

// Property 8 also covers the header's correlation-id region: a mutation
// there must be caught even though it falls outside the body region that
// the earlier round-trip-style tests exercise.
func TestLoadRejectsCorruptCorrelationID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fct.bin")

	table := newTable(5, identity.NewAdapter(), false)
	table.putRaw(testID(1), &Entry{Version: 1, Hash: hashOf(1), Length: 1, TTL: 5})
	require.NoError(t, Save(table, path, testAlgo))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	idOffset := 1 + len(envelopeMagic) + 1 + len(testAlgo.Name) + 4
	corrupt := append([]byte(nil), raw...)
	corrupt[idOffset] ^= 0xFF
	require.NoError(t, os.WriteFile(path, corrupt, 0644))

	_, ok := Load(path, testAlgo, 5)
	require.False(t, ok)
}

func TestLoadRejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fct.bin")

	table := newTable(5, identity.NewAdapter(), false)
	table.putRaw(testID(1), &Entry{Version: 1, Hash: hashOf(1), Length: 1, TTL: 5})
	require.NoError(t, Save(table, path, testAlgo))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-5], 0644))

	_, ok := Load(path, testAlgo, 5)
	require.False(t, ok)
}

func TestLoadRejectsWrongAlgorithm(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fct.bin")

	table := newTable(5, identity.NewAdapter(), false)
	require.NoError(t, Save(table, path, testAlgo))

	_, ok := Load(path, Algorithm{Name: "sha256", Size: 32}, 5)
	require.False(t, ok)
}

func TestLoadOrCreateFallsBackOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.bin")

	table := LoadOrCreate(path, testAlgo, 5)
	require.NotNil(t, table)
	require.False(t, table.IsStub())
	require.Equal(t, uint16(5), table.DefaultTTL())
}

// A stub table's save produces a file that loads to an empty, non-stub
// table (property 7).
func TestStubTableSaveLoadsAsEmptyTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fct.bin")

	stub := NewStubTable()
	require.NoError(t, Save(stub, path, testAlgo))

	loaded, ok := Load(path, testAlgo, 5)
	require.True(t, ok)
	require.False(t, loaded.IsStub())
	require.Equal(t, 0, loaded.Stats().NumEntries)
}

func TestForkDecaysWithoutTouchingDisk(t *testing.T) {
	table := newTable(4, identity.NewAdapter(), false)
	id := testID(1)
	table.putRaw(id, &Entry{Version: 1, Hash: hashOf(1), Length: 1, TTL: 4})

	forked := Fork(table, 0)
	require.Equal(t, uint16(3), forked.getRaw(id).TTL)
	// The source table is untouched.
	require.Equal(t, uint16(4), table.getRaw(id).TTL)
}

func TestForkAppliesNewDefaultTTL(t *testing.T) {
	table := newTable(4, identity.NewAdapter(), false)
	id := testID(1)
	table.putRaw(id, &Entry{Version: 1, Hash: hashOf(1), Length: 1, TTL: 10})

	forked := Fork(table, 2)
	require.Equal(t, uint16(2), forked.DefaultTTL())
	require.Equal(t, uint16(1), forked.getRaw(id).TTL)
}
