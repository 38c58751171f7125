package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"YieldRounds/internal/storage"
	"YieldRounds/internal/types"
)

// createTestStorage creates a temporary storage for testing.
func createTestStorage(t *testing.T) *storage.Storage {
	t.Helper()

	dir, err := os.MkdirTemp("", "snapshot_test_*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	db, err := storage.New(filepath.Join(dir, "db"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("create storage: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
		os.RemoveAll(dir)
	})

	return db
}

func TestCreateEmpty(t *testing.T) {
	db := createTestStorage(t)

	data, err := Create(db, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	snap := types.GetRootAsSnapshot(data, 0)
	if snap.Version() != snapshotVersion {
		t.Errorf("version = %d, want %d", snap.Version(), snapshotVersion)
	}
	if snap.EntriesLength() != 0 {
		t.Errorf("entries = %d, want 0", snap.EntriesLength())
	}
}

func TestExportImport(t *testing.T) {
	src := createTestStorage(t)

	pairs := []storage.KeyValue{
		{Key: []byte("r:1"), Value: []byte("round")},
		{Key: []byte("i:1"), Value: []byte("issue")},
		{Key: []byte("m:owner"), Value: []byte{0xaa}},
	}
	if err := src.SetBatch(pairs); err != nil {
		t.Fatalf("SetBatch: %v", err)
	}

	compressed, err := Export(src, 7)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	dst := createTestStorage(t)

	info, err := Import(dst, compressed)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	if info.Entries != 3 || info.LastEvent != 7 {
		t.Errorf("info = %+v", info)
	}

	for _, kv := range pairs {
		got, err := dst.Get(kv.Key)
		if err != nil {
			t.Fatalf("Get %s: %v", kv.Key, err)
		}
		if string(got) != string(kv.Value) {
			t.Errorf("%s = %q, want %q", kv.Key, got, kv.Value)
		}
	}

	// importing twice would merge two histories
	if _, err := Import(dst, compressed); !errors.Is(err, ErrNotEmpty) {
		t.Errorf("second import: got %v, want ErrNotEmpty", err)
	}
}

func TestChecksumDeterministic(t *testing.T) {
	db := createTestStorage(t)
	if err := db.SetBatch([]storage.KeyValue{{Key: []byte("k"), Value: []byte("v")}}); err != nil {
		t.Fatalf("SetBatch: %v", err)
	}

	a, _ := Create(db, 1)
	b, _ := Create(db, 1)

	infoA, err := Verify(a)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	infoB, _ := Verify(b)

	if infoA.Checksum != infoB.Checksum {
		t.Error("same content should give the same checksum")
	}

	c, _ := Create(db, 2)
	infoC, _ := Verify(c)
	if infoA.Checksum == infoC.Checksum {
		t.Error("last event must be covered by the checksum")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	db := createTestStorage(t)
	if err := db.SetBatch([]storage.KeyValue{{Key: []byte("k"), Value: []byte("value")}}); err != nil {
		t.Fatalf("SetBatch: %v", err)
	}

	data, err := Create(db, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	snap := types.GetRootAsSnapshot(data, 0)
	var e types.SnapshotEntry
	snap.Entries(&e, 0)
	e.MutateValue(0, 'V')

	if _, err := Verify(data); !errors.Is(err, ErrChecksum) {
		t.Errorf("got %v, want ErrChecksum", err)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	data := []byte("snapshot payload snapshot payload snapshot payload")

	compressed, err := Compress(data)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	got, err := Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}

	if string(got) != string(data) {
		t.Errorf("round trip = %q", got)
	}
}
