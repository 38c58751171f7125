// Package snapshot exports and imports the full record store.
//
// A snapshot is a FlatBuffers table of every key-value pair in storage, in key
// order, with a blake3 checksum over the canonical encoding. On disk and over
// the API it travels zstd-compressed.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"YieldRounds/internal/storage"
	"YieldRounds/internal/types"
)

// snapshotVersion is the current snapshot format version.
const snapshotVersion = 1

var (
	ErrChecksum = errors.New("snapshot checksum mismatch")
	ErrVersion  = errors.New("unsupported snapshot version")
	ErrNotEmpty = errors.New("target storage is not empty")
)

// entry holds one key-value pair.
type entry struct {
	key   []byte
	value []byte
}

// Info describes a snapshot.
type Info struct {
	Version   uint32
	LastEvent uint64
	Entries   int
	Checksum  [32]byte
}

// Create builds an uncompressed snapshot of db.
// lastEvent is the sequence number of the newest journal entry it contains.
func Create(db *storage.Storage, lastEvent uint64) ([]byte, error) {
	entries, err := collect(db)
	if err != nil {
		return nil, fmt.Errorf("collect entries:\n%w", err)
	}

	return build(lastEvent, entries), nil
}

// Export builds a compressed snapshot of db.
func Export(db *storage.Storage, lastEvent uint64) ([]byte, error) {
	data, err := Create(db, lastEvent)
	if err != nil {
		return nil, err
	}

	return Compress(data)
}

// Import verifies a compressed snapshot and writes it into an empty db.
func Import(db *storage.Storage, compressed []byte) (Info, error) {
	data, err := Decompress(compressed)
	if err != nil {
		return Info{}, fmt.Errorf("decompress:\n%w", err)
	}

	return Apply(db, data)
}

// collect returns a copy of every pair in db in key order.
func collect(db *storage.Storage) ([]entry, error) {
	var entries []entry

	err := db.Iterate(func(key, value []byte) error {
		entries = append(entries, entry{
			key:   append([]byte(nil), key...),
			value: append([]byte(nil), value...),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// build creates the FlatBuffers snapshot with checksum.
func build(lastEvent uint64, entries []entry) []byte {
	checksum := computeChecksum(snapshotVersion, lastEvent, entries)

	builder := flatbuffers.NewBuilder(1024)

	offsets := make([]flatbuffers.UOffsetT, len(entries))
	for i, e := range entries {
		keyOffset := builder.CreateByteVector(e.key)
		valueOffset := builder.CreateByteVector(e.value)

		types.SnapshotEntryStart(builder)
		types.SnapshotEntryAddKey(builder, keyOffset)
		types.SnapshotEntryAddValue(builder, valueOffset)
		offsets[i] = types.SnapshotEntryEnd(builder)
	}

	types.SnapshotStartEntriesVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	entriesVector := builder.EndVector(len(offsets))

	checksumOffset := builder.CreateByteVector(checksum[:])

	types.SnapshotStart(builder)
	types.SnapshotAddVersion(builder, snapshotVersion)
	types.SnapshotAddLastEvent(builder, lastEvent)
	types.SnapshotAddEntries(builder, entriesVector)
	types.SnapshotAddChecksum(builder, checksumOffset)
	builder.Finish(types.SnapshotEnd(builder))

	return builder.FinishedBytes()
}

// computeChecksum hashes the canonical snapshot content.
// Format: version (4 bytes) + last event (8 bytes) + for each entry: key len, key, value len, value
func computeChecksum(version uint32, lastEvent uint64, entries []entry) [32]byte {
	hasher := blake3.New()

	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], version)
	hasher.Write(buf[:4])

	binary.BigEndian.PutUint64(buf[:], lastEvent)
	hasher.Write(buf[:])

	for _, e := range entries {
		binary.BigEndian.PutUint32(buf[:4], uint32(len(e.key)))
		hasher.Write(buf[:4])
		hasher.Write(e.key)

		binary.BigEndian.PutUint32(buf[:4], uint32(len(e.value)))
		hasher.Write(buf[:4])
		hasher.Write(e.value)
	}

	var checksum [32]byte
	hasher.Sum(checksum[:0])

	return checksum
}

// Compress compresses snapshot data using zstd.
func Compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// Decompress decompresses zstd-compressed snapshot data.
func Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}

// Verify checks the version and checksum of an uncompressed snapshot.
func Verify(data []byte) (Info, error) {
	info, _, err := verify(data)
	return info, err
}

// Apply verifies an uncompressed snapshot and writes every entry into an empty db.
func Apply(db *storage.Storage, data []byte) (Info, error) {
	info, entries, err := verify(data)
	if err != nil {
		return Info{}, err
	}

	existing := false
	err = db.Iterate(func(_, _ []byte) error {
		existing = true
		return ErrNotEmpty
	})
	if existing {
		return Info{}, ErrNotEmpty
	}
	if err != nil {
		return Info{}, err
	}

	pairs := make([]storage.KeyValue, len(entries))
	for i, e := range entries {
		pairs[i] = storage.KeyValue{Key: e.key, Value: e.value}
	}

	if err := db.SetBatch(pairs); err != nil {
		return Info{}, fmt.Errorf("write entries:\n%w", err)
	}

	return info, nil
}

// verify parses data and checks its version and checksum.
func verify(data []byte) (info Info, entries []entry, err error) {
	// malformed buffers make the generated accessors panic
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed snapshot: %v", r)
		}
	}()

	snap := types.GetRootAsSnapshot(data, 0)

	if snap.Version() != snapshotVersion {
		return Info{}, nil, fmt.Errorf("%w: %d", ErrVersion, snap.Version())
	}

	stored := snap.ChecksumBytes()
	if len(stored) != 32 {
		return Info{}, nil, fmt.Errorf("invalid checksum length: %d", len(stored))
	}

	entries = make([]entry, snap.EntriesLength())
	var e types.SnapshotEntry

	for i := range entries {
		if !snap.Entries(&e, i) {
			return Info{}, nil, fmt.Errorf("read entry %d", i)
		}

		entries[i] = entry{
			key:   append([]byte(nil), e.KeyBytes()...),
			value: append([]byte(nil), e.ValueBytes()...),
		}
	}

	computed := computeChecksum(snap.Version(), snap.LastEvent(), entries)
	if !bytes.Equal(computed[:], stored) {
		return Info{}, nil, ErrChecksum
	}

	return Info{
		Version:   snap.Version(),
		LastEvent: snap.LastEvent(),
		Entries:   len(entries),
		Checksum:  computed,
	}, entries, nil
}
