//go:build ignore

package main

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"YieldRounds/internal/snapshot"
	"YieldRounds/internal/storage"
)

// families names the record families by key prefix.
var families = map[string]string{
	"r:": "rounds",
	"i:": "issues",
	"v:": "ballots",
	"p:": "deposits",
	"w:": "withdrawals",
	"e:": "events",
	"m:": "meta",
}

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <data_dir|snapshot> <data_dir|snapshot>\n", os.Args[0])
		os.Exit(1)
	}

	path1, path2 := os.Args[1], os.Args[2]

	db1, err := open(path1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", path1, err)
		os.Exit(1)
	}
	defer db1.Close()

	db2, err := open(path2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", path2, err)
		os.Exit(1)
	}
	defer db2.Close()

	records1 := collect(db1)
	records2 := collect(db2)

	fmt.Printf("A (%s): %d records\n", path1, len(records1))
	fmt.Printf("B (%s): %d records\n", path2, len(records2))

	onlyA, onlyB, different := compare(records1, records2)

	if len(onlyA) == 0 && len(onlyB) == 0 && len(different) == 0 {
		fmt.Println("\nStates are identical")
		os.Exit(0)
	}

	fmt.Println("\nStates differ:")
	report("Records only in A", onlyA)
	report("Records only in B", onlyB)
	report("Records with different content", different)

	os.Exit(1)
}

// open opens a data dir, or loads a snapshot file into an in-memory store.
func open(path string) (*storage.Storage, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if fi.IsDir() {
		return storage.New(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	db, err := storage.NewInMemory()
	if err != nil {
		return nil, err
	}

	info, err := snapshot.Import(db, data)
	if err != nil {
		db.Close()
		return nil, err
	}

	fmt.Printf("snapshot %s: last event %d, checksum %x\n", path, info.LastEvent, info.Checksum[:8])

	return db, nil
}

func collect(db *storage.Storage) map[string][]byte {
	records := make(map[string][]byte)

	db.Iterate(func(key, value []byte) error {
		records[string(key)] = append([]byte(nil), value...)
		return nil
	})

	return records
}

func compare(a, b map[string][]byte) (onlyA, onlyB, different []string) {
	for key, va := range a {
		vb, ok := b[key]
		switch {
		case !ok:
			onlyA = append(onlyA, key)
		case !bytes.Equal(va, vb):
			different = append(different, key)
		}
	}

	for key := range b {
		if _, ok := a[key]; !ok {
			onlyB = append(onlyB, key)
		}
	}

	return
}

// report prints keys grouped by record family.
func report(title string, keys []string) {
	if len(keys) == 0 {
		return
	}

	fmt.Printf("  - %s: %d\n", title, len(keys))

	sort.Strings(keys)
	for _, key := range keys {
		family := "unknown"
		if len(key) >= 2 {
			if name, ok := families[key[:2]]; ok {
				family = name
			}
		}
		fmt.Printf("      %-11s %x\n", family, key)
	}
}
