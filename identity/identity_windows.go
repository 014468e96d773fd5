//go:build windows

package identity

import (
	"encoding/binary"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// USN (Update Sequence Number) journal ioctls. The USN on a journaled
// filesystem is the strong version, and establishing one means forcing a
// close-like journal record.
const (
	fsctlReadFileUsnData     = 0x900eb
	fsctlWriteUsnCloseRecord = 0x900ef
)

type fileIDInfo struct {
	VolumeSerialNumber uint64
	FileID             [16]byte
}

type usnRecordV2Header struct {
	RecordLength   uint32
	MajorVersion   uint16
	MinorVersion   uint16
	FileReference  uint64
	ParentFileRef  uint64
	USN            uint64
	// remaining fields (timestamp, reason, source info, attributes,
	// filename) are not needed to extract the USN.
}

func getFileIDInfo(handle *os.File) (ID, error) {
	var info fileIDInfo
	err := windows.GetFileInformationByHandleEx(
		windows.Handle(handle.Fd()),
		windows.FileIdInfo,
		(*byte)(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	)
	if err != nil {
		return ID{}, err
	}
	return ID{VolumeID: info.VolumeSerialNumber, FileID: info.FileID}, nil
}

func readUSN(handle *os.File) (uint64, error) {
	var header usnRecordV2Header
	var bytesReturned uint32
	err := windows.DeviceIoControl(
		windows.Handle(handle.Fd()),
		fsctlReadFileUsnData,
		nil, 0,
		(*byte)(unsafe.Pointer(&header)), uint32(unsafe.Sizeof(header)),
		&bytesReturned, nil,
	)
	if err != nil {
		return 0, err
	}
	return header.USN, nil
}

func writeUSNCloseRecord(handle *os.File) (uint64, error) {
	var usn uint64
	var bytesReturned uint32
	err := windows.DeviceIoControl(
		windows.Handle(handle.Fd()),
		fsctlWriteUsnCloseRecord,
		nil, 0,
		(*byte)(unsafe.Pointer(&usn)), uint32(unsafe.Sizeof(usn)),
		&bytesReturned, nil,
	)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64((*[8]byte)(unsafe.Pointer(&usn))[:]), nil
}

func queryWeak(handle *os.File) (ID, Version, error) {
	id, err := getFileIDInfo(handle)
	if err != nil {
		return ID{}, Version{}, translateUnsupported(err)
	}
	usn, err := readUSN(handle)
	if err != nil {
		return ID{}, Version{}, translateUnsupported(err)
	}
	return id, Version{Value: usn}, nil
}

func establishStrong(handle *os.File, flush bool) (ID, Version, error) {
	id, err := getFileIDInfo(handle)
	if err != nil {
		return ID{}, Version{}, translateUnsupported(err)
	}
	if flush {
		if err := handle.Sync(); err != nil {
			return ID{}, Version{}, err
		}
	}
	usn, err := writeUSNCloseRecord(handle)
	if err != nil {
		return ID{}, Version{}, translateUnsupported(err)
	}
	return id, Version{Value: usn, Strong: true}, nil
}

// translateUnsupported maps "change journal disabled/unavailable" system
// errors onto ErrNotSupported so the table core's one-time-diagnostic path
// can treat them uniformly across platforms.
func translateUnsupported(err error) error {
	switch err {
	case windows.ERROR_INVALID_FUNCTION, windows.ERROR_NOT_SUPPORTED:
		return ErrNotSupported
	}
	return err
}
