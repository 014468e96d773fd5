//go:build !unix && !windows

package identity

import "os"

// queryWeak and establishStrong on an OS this module has no versioned
// identity support for. Every call reports ErrNotSupported so the table
// core degrades to stub-table behavior: a stub table short-circuits both
// operations to not-supported.
func queryWeak(handle *os.File) (ID, Version, error) {
	return ID{}, Version{}, ErrNotSupported
}

func establishStrong(handle *os.File, flush bool) (ID, Version, error) {
	return ID{}, Version{}, ErrNotSupported
}
