package fct_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildbuddy-io/filecontenttable/fct"
	"github.com/buildbuddy-io/filecontenttable/identity"
)

type mapAccessor map[identity.ID]string

func (m mapAccessor) Open(id identity.ID, shareMode int) (*os.File, string, bool) {
	path, ok := m[id]
	if !ok {
		return nil, "", false
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", false
	}
	return f, path, true
}

func TestVisitInvokesFnForEachLiveMatchingEntry(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a")
	pathB := filepath.Join(dir, "b")
	writeFile(t, pathA, "aaa")
	writeFile(t, pathB, "bbb")

	table := fct.NewTable(255)
	accessor := mapAccessor{}

	for _, p := range []string{pathA, pathB} {
		f, err := os.OpenFile(p, os.O_RDWR, 0644)
		require.NoError(t, err)
		id, _ := table.Record(p, f, true, hashString(t, "x"), 3, nil)
		accessor[id] = p
		f.Close()
	}

	var visited []string
	table.Visit(accessor, 0, func(id identity.ID, handle *os.File, path string, version identity.Version, hash []byte) bool {
		visited = append(visited, path)
		return true
	})
	require.ElementsMatch(t, []string{pathA, pathB}, visited)
}

func TestVisitAbortsWhenFnReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a")
	pathB := filepath.Join(dir, "b")
	writeFile(t, pathA, "aaa")
	writeFile(t, pathB, "bbb")

	table := fct.NewTable(255)
	accessor := mapAccessor{}
	for _, p := range []string{pathA, pathB} {
		f, err := os.OpenFile(p, os.O_RDWR, 0644)
		require.NoError(t, err)
		id, _ := table.Record(p, f, true, hashString(t, "x"), 3, nil)
		accessor[id] = p
		f.Close()
	}

	count := 0
	table.Visit(accessor, 0, func(id identity.ID, handle *os.File, path string, version identity.Version, hash []byte) bool {
		count++
		return false
	})
	require.Equal(t, 1, count)
}

func TestVisitSkipsEntryWithStaleVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a")
	writeFile(t, path, "aaa")

	table := fct.NewTable(255)
	accessor := mapAccessor{}
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	id, _ := table.Record(path, f, true, hashString(t, "x"), 3, nil)
	accessor[id] = path
	f.Close()

	writeFile(t, path, "changed")

	visited := 0
	table.Visit(accessor, 0, func(id identity.ID, handle *os.File, path string, version identity.Version, hash []byte) bool {
		visited++
		return true
	})
	require.Equal(t, 0, visited)
}
