package identity

import "errors"

// ErrNotSupported is returned when the filesystem/OS cannot produce
// versioned identities (e.g. the change journal is disabled, or the target
// isn't backed by a filesystem that tracks one). Callers should check with
// errors.Is(err, ErrNotSupported); any other error is an opaque failure
// that should be logged but otherwise treated the same way.
var ErrNotSupported = errors.New("identity: versioned identity not supported on this filesystem")
