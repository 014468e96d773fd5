//go:build unix

package identity_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildbuddy-io/filecontenttable/identity"
)

func TestEstablishStrongIsMonotonicWithinProcess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	defer f.Close()

	adapter := identity.NewAdapter()

	_, v1, err := adapter.EstablishStrong(f, false)
	require.NoError(t, err)
	_, v2, err := adapter.EstablishStrong(f, false)
	require.NoError(t, err)

	require.Greater(t, v2.Value, v1.Value)
	require.True(t, v1.Strong)
	require.True(t, v2.Strong)
}

func TestIdentityStableAcrossRename(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "f")
	newPath := filepath.Join(dir, "g")
	require.NoError(t, os.WriteFile(oldPath, []byte("hello"), 0644))

	f, err := os.OpenFile(oldPath, os.O_RDWR, 0644)
	require.NoError(t, err)
	defer f.Close()

	adapter := identity.NewAdapter()
	idBefore, _, err := adapter.QueryWeak(f)
	require.NoError(t, err)

	require.NoError(t, os.Rename(oldPath, newPath))

	idAfter, _, err := adapter.QueryWeak(f)
	require.NoError(t, err)
	require.Equal(t, idBefore, idAfter)
}

func TestIdentityDiffersAcrossDistinctFiles(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a")
	pathB := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(pathA, []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(pathB, []byte("hello"), 0644))

	fa, err := os.Open(pathA)
	require.NoError(t, err)
	defer fa.Close()
	fb, err := os.Open(pathB)
	require.NoError(t, err)
	defer fb.Close()

	adapter := identity.NewAdapter()
	idA, _, err := adapter.QueryWeak(fa)
	require.NoError(t, err)
	idB, _, err := adapter.QueryWeak(fb)
	require.NoError(t, err)

	require.NotEqual(t, idA, idB)
}

func TestIDCompareIsTotalOrder(t *testing.T) {
	a := identity.ID{VolumeID: 1}
	b := identity.ID{VolumeID: 2}
	require.Negative(t, a.Compare(b))
	require.Positive(t, b.Compare(a))
	require.Zero(t, a.Compare(a))
}
