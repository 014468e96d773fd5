//go:build unix

package identity

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// monotonic compensates for Unix having no change journal: "strong
// version" here is derived from mtime/ctime, which is only as
// fine-grained as the filesystem's timestamp resolution. To retain
// strict within-process monotonicity even when two EstablishStrong calls
// land in the same timestamp tick, this process keeps a last-issued-version
// map per identity and bumps by one whenever the raw timestamp-derived
// candidate would not advance the version. This is a documented
// restriction relative to the stronger cross-process guarantee the USN
// journal gives on Windows.
var monotonic = struct {
	mu   sync.Mutex
	last map[ID]uint64
}{last: make(map[ID]uint64)}

func idFromStat(st *unix.Stat_t) ID {
	var id ID
	id.VolumeID = uint64(st.Dev)
	// Fold the 64-bit inode number into the low 8 bytes of the 128-bit
	// file id field; the high bytes are reserved (always zero on Unix,
	// where there is no analogue of an NTFS file reference number's
	// sequence-number half).
	ino := uint64(st.Ino)
	for i := 0; i < 8; i++ {
		id.FileID[15-i] = byte(ino >> (8 * i))
	}
	return id
}

func versionFromStat(id ID, st *unix.Stat_t) Version {
	candidate := uint64(st.Mtim.Sec)*1e9 + uint64(st.Mtim.Nsec)

	monotonic.mu.Lock()
	defer monotonic.mu.Unlock()
	if last, ok := monotonic.last[id]; ok && candidate <= last {
		candidate = last + 1
	}
	monotonic.last[id] = candidate
	return Version{Value: candidate}
}

func statHandle(handle *os.File) (ID, *unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(handle.Fd()), &st); err != nil {
		return ID{}, nil, err
	}
	return idFromStat(&st), &st, nil
}

func queryWeak(handle *os.File) (ID, Version, error) {
	id, st, err := statHandle(handle)
	if err != nil {
		return ID{}, Version{}, err
	}
	monotonic.mu.Lock()
	candidate := uint64(st.Mtim.Sec)*1e9 + uint64(st.Mtim.Nsec)
	if last, ok := monotonic.last[id]; ok && candidate < last {
		candidate = last
	}
	monotonic.mu.Unlock()
	return id, Version{Value: candidate}, nil
}

func establishStrong(handle *os.File, flush bool) (ID, Version, error) {
	if flush {
		if err := handle.Sync(); err != nil {
			return ID{}, Version{}, err
		}
	}
	id, st, err := statHandle(handle)
	if err != nil {
		return ID{}, Version{}, err
	}
	v := versionFromStat(id, st)
	v.Strong = true
	return id, v, nil
}
