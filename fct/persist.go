package fct

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/buildbuddy-io/filecontenttable/identity"
	"github.com/buildbuddy-io/filecontenttable/internal/log"
	"github.com/buildbuddy-io/filecontenttable/internal/metrics"
	"github.com/buildbuddy-io/filecontenttable/internal/status"
)

// envelopeMagic and formatVersion together act as the compatibility
// guard: a loader that sees either field not match exactly what it
// expects reports "invalid format" and the caller creates a fresh table.
const envelopeMagic = "FileContentTable."
const formatVersion uint32 = 19

// entryFixedSize is the fixed, on-disk size of one entry record, not
// counting the hash bytes (which vary per algorithm and are appended).
const entryFixedSize = 8 + 16 + 8 + 8 + 2 // volumeID + fileID + version + length + ttl

// decodeWorkers bounds the deserialization fan-out: once the whole file
// has been read into memory, a pool of workers decodes the entry records
// and drains them into the map in parallel, grounded on the corpus's errgroup.Group.SetLimit usage in
// enterprise/tools/reflink.
const decodeWorkers = 8

// Algorithm describes the content hash algorithm whose name and byte
// length are embedded in the envelope header and used to validate
// compatibility and frame each entry's hash field.
type Algorithm struct {
	Name string
	Size int
}

func decayTTL(ttl, defaultTTL uint16) (uint16, bool) {
	if ttl == 0 {
		return 0, false
	}
	clamped := ttl
	if clamped > defaultTTL {
		clamped = defaultTTL
	}
	return clamped - 1, true
}

func decayOne(e *Entry, targetDefaultTTL uint16) *Entry {
	newTTL, ok := decayTTL(e.TTL, targetDefaultTTL)
	if !ok {
		return nil
	}
	cp := e.clone()
	cp.TTL = newTTL
	return cp
}

// Save writes t's live entries (skipping any whose current TTL is 0; they
// are evicted) to path in the envelope format. Header and body are both
// built in memory and then written in order, sidestepping the
// seek-back-to-patch-header dance the format otherwise implies. Crash-atomicity (write to a temp
// path and rename) is the caller's responsibility.
func Save(t *Table, path string, algo Algorithm) error {
	start := time.Now()
	defer func() { metrics.SaveDurationUsec.Observe(float64(time.Since(start).Microseconds())) }()

	correlationID := uuid.New()
	ctx := log.WithCorrelationID(context.Background(), correlationID.String())

	if t.isStub {
		return writeEnvelope(ctx, path, algo, correlationID, nil)
	}

	var records []entryRecord
	var evicted uint64
	for _, sh := range t.shards {
		sh.m.Range(func(k, v any) bool {
			id := k.(identity.ID)
			e := v.(*atomic.Pointer[Entry]).Load()
			if e == nil {
				return true
			}
			if e.TTL == 0 {
				evicted++
				return true
			}
			records = append(records, entryRecord{id: id, entry: e})
			return true
		})
	}
	t.stats.evicted(evicted)
	metrics.NumEntries.Set(float64(len(records)))

	return writeEnvelope(ctx, path, algo, correlationID, records)
}

type entryRecord struct {
	id    identity.ID
	entry *Entry
}

func writeEnvelope(ctx context.Context, path string, algo Algorithm, correlationID uuid.UUID, records []entryRecord) error {
	body := new(bytes.Buffer)
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(records)))
	body.Write(countBuf[:])

	for _, r := range records {
		var buf [entryFixedSize]byte
		binary.LittleEndian.PutUint64(buf[0:8], r.id.VolumeID)
		copy(buf[8:24], r.id.FileID[:])
		binary.LittleEndian.PutUint64(buf[24:32], r.entry.Version)
		binary.LittleEndian.PutUint64(buf[32:40], uint64(r.entry.Length))
		binary.LittleEndian.PutUint16(buf[40:42], r.entry.TTL)
		body.Write(buf[:])
		hash := r.entry.Hash
		if len(hash) < algo.Size {
			padded := make([]byte, algo.Size)
			copy(padded, hash)
			hash = padded
		}
		body.Write(hash[:algo.Size])
	}

	bodyBytes := body.Bytes()
	idBytes, _ := correlationID.MarshalBinary()
	// The checksum covers the correlation id alongside the body so a byte
	// mutation anywhere in the header's id region is caught too, not just
	// mutations in the body.
	checksum := xxhash.Sum64(append(append([]byte(nil), idBytes...), bodyBytes...))

	header := new(bytes.Buffer)
	writeLengthPrefixed(header, []byte(envelopeMagic))
	writeLengthPrefixed(header, []byte(algo.Name))
	var versionBuf [4]byte
	binary.LittleEndian.PutUint32(versionBuf[:], formatVersion)
	header.Write(versionBuf[:])
	header.Write(idBytes)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(bodyBytes)))
	header.Write(lenBuf[:])
	var sumBuf [8]byte
	binary.LittleEndian.PutUint64(sumBuf[:], checksum)
	header.Write(sumBuf[:])
	var algoSizeBuf [4]byte
	binary.LittleEndian.PutUint32(algoSizeBuf[:], uint32(algo.Size))
	header.Write(algoSizeBuf[:])

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		wrapped := status.InternalErrorf("fct: opening %q for save: %s", path, err)
		log.CtxErrorf(ctx, "%s", status.Message(wrapped))
		return wrapped
	}
	defer f.Close()

	if _, err := f.Write(header.Bytes()); err != nil {
		wrapped := status.InternalErrorf("fct: writing header to %q: %s", path, err)
		log.CtxErrorf(ctx, "%s", status.Message(wrapped))
		return wrapped
	}
	if _, err := f.Write(bodyBytes); err != nil {
		wrapped := status.InternalErrorf("fct: writing body to %q: %s", path, err)
		log.CtxErrorf(ctx, "%s", status.Message(wrapped))
		return wrapped
	}
	return nil
}

func writeLengthPrefixed(buf *bytes.Buffer, b []byte) {
	var lenByte [1]byte
	lenByte[0] = byte(len(b))
	buf.Write(lenByte[:])
	buf.Write(b)
}

func readLengthPrefixed(r *bytes.Reader) ([]byte, error) {
	lenByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	b := make([]byte, lenByte)
	if _, err := r.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Load reads path in the envelope format and returns a fresh Table on
// success. It never returns an error: any recoverable failure (missing
// file, format mismatch, truncated/corrupt body) yields (nil, false) — a
// corrupt table is treated the same as an absent one.
func Load(path string, algo Algorithm, defaultTTL uint16) (*Table, bool) {
	start := time.Now()
	defer func() { metrics.LoadDurationUsec.Observe(float64(time.Since(start).Microseconds())) }()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Infof("fct: %q does not exist; starting with an empty table", path)
		} else {
			log.Warningf("fct: error reading %q: %s", path, err)
		}
		return nil, false
	}

	r := bytes.NewReader(raw)
	magic, err := readLengthPrefixed(r)
	if err != nil || string(magic) != envelopeMagic {
		log.Warningf("fct: %q is not a file content table (bad magic)", path)
		return nil, false
	}
	algoName, err := readLengthPrefixed(r)
	if err != nil || string(algoName) != algo.Name {
		log.Warningf("fct: %q was written with a different hash algorithm", path)
		return nil, false
	}
	var versionBuf [4]byte
	if _, err := r.Read(versionBuf[:]); err != nil || binary.LittleEndian.Uint32(versionBuf[:]) != formatVersion {
		log.Warningf("fct: %q has an incompatible format version", path)
		return nil, false
	}
	var idBuf [16]byte
	if _, err := r.Read(idBuf[:]); err != nil {
		return nil, false
	}
	var lenBuf [8]byte
	if _, err := r.Read(lenBuf[:]); err != nil {
		return nil, false
	}
	bodyLen := binary.LittleEndian.Uint64(lenBuf[:])
	var sumBuf [8]byte
	if _, err := r.Read(sumBuf[:]); err != nil {
		return nil, false
	}
	wantChecksum := binary.LittleEndian.Uint64(sumBuf[:])
	var algoSizeBuf [4]byte
	if _, err := r.Read(algoSizeBuf[:]); err != nil {
		return nil, false
	}
	hashSize := int(binary.LittleEndian.Uint32(algoSizeBuf[:]))
	if hashSize != algo.Size {
		log.Warningf("fct: %q has an unexpected hash size", path)
		return nil, false
	}

	// From here on, tag warnings with the envelope's own correlation id:
	// it also anchors the integrity check below, so a mutated id and a
	// mismatched tag in the log go hand in hand.
	ctx := context.Background()
	if correlationID, err := uuid.FromBytes(idBuf[:]); err == nil {
		ctx = log.WithCorrelationID(ctx, correlationID.String())
	}

	headerEnd := len(raw) - r.Len()
	if uint64(len(raw)-headerEnd) < bodyLen {
		log.CtxWarningf(ctx, "fct: %q is truncated", path)
		return nil, false
	}
	body := raw[headerEnd : headerEnd+int(bodyLen)]
	gotChecksum := xxhash.Sum64(append(append([]byte(nil), idBuf[:]...), body...))
	if gotChecksum != wantChecksum {
		log.CtxWarningf(ctx, "fct: %q failed its checksum; treating as corrupt", path)
		return nil, false
	}

	table := newTable(defaultTTL, identity.NewAdapter(), false)
	if err := decodeBody(table, body, hashSize); err != nil {
		log.CtxWarningf(ctx, "fct: %q failed to decode: %s", path, err)
		return nil, false
	}
	return table, true
}

// LoadOrCreate never fails: it tries Load and falls back to a fresh table
// on any recoverable error. It logs nothing itself; Load logs the reason
// (at info for a missing file, at warn for most other failures).
func LoadOrCreate(path string, algo Algorithm, defaultTTL uint16) *Table {
	if t, ok := Load(path, algo, defaultTTL); ok {
		return t
	}
	return NewTable(defaultTTL)
}

func decodeBody(table *Table, body []byte, hashSize int) error {
	recordSize := entryFixedSize + hashSize
	var countBuf [4]byte
	if len(body) < 4 {
		return errShortBody
	}
	copy(countBuf[:], body[:4])
	count := int(binary.LittleEndian.Uint32(countBuf[:]))
	rest := body[4:]
	if len(rest) != count*recordSize {
		return errShortBody
	}

	eg := new(errgroup.Group)
	eg.SetLimit(decodeWorkers)
	chunk := (count + decodeWorkers - 1) / decodeWorkers
	if chunk == 0 {
		chunk = 1
	}
	for start := 0; start < count; start += chunk {
		end := start + chunk
		if end > count {
			end = count
		}
		start, end := start, end
		eg.Go(func() error {
			for i := start; i < end; i++ {
				rec := rest[i*recordSize : (i+1)*recordSize]
				id := identity.ID{
					VolumeID: binary.LittleEndian.Uint64(rec[0:8]),
				}
				copy(id.FileID[:], rec[8:24])
				version := binary.LittleEndian.Uint64(rec[24:32])
				length := int64(binary.LittleEndian.Uint64(rec[32:40]))
				ttl := binary.LittleEndian.Uint16(rec[40:42])
				if ttl == 0 {
					return errZeroTTL
				}
				hash := append([]byte(nil), rec[42:42+hashSize]...)

				decayedTTL, ok := decayTTL(ttl, table.defaultTTL)
				if !ok {
					continue
				}
				entry := &Entry{Version: version, Hash: hash, Length: length, TTL: decayedTTL}
				slot := table.slotFor(id, true)
				slot.Store(entry)
			}
			return nil
		})
	}
	return eg.Wait()
}

var errShortBody = errShortBodyErr{}
var errZeroTTL = errZeroTTLErr{}

type errShortBodyErr struct{}

func (errShortBodyErr) Error() string { return "fct: truncated entry body" }

type errZeroTTLErr struct{}

func (errZeroTTLErr) Error() string {
	return "fct: persisted entry has ttl=0, which is a format error"
}
