package state

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"YieldRounds/internal/storage"
)

// Pebble key prefixes, one per record family.
var (
	prefixRound      = []byte("r:")
	prefixIssue      = []byte("i:")
	prefixBallot     = []byte("v:")
	prefixDeposit    = []byte("p:")
	prefixWithdrawal = []byte("w:")
	prefixEvent      = []byte("e:")
	prefixMeta       = []byte("m:")
)

// Meta keys.
var (
	metaOwner = metaKey("owner")
	metaTotal = metaKey("total")
	metaYield = metaKey("yield")
)

// recordStore reads one record family out of storage.
type recordStore struct {
	db     *storage.Storage
	prefix []byte
}

// newRecordStore creates a store for the records under prefix.
func newRecordStore(db *storage.Storage, prefix []byte) *recordStore {
	return &recordStore{db: db, prefix: prefix}
}

// get retrieves one record by its key suffix. Returns nil if not found.
func (s *recordStore) get(suffix []byte) ([]byte, error) {
	return s.db.Get(append(append([]byte(nil), s.prefix...), suffix...))
}

// each calls fn with a copy of every record in key order.
func (s *recordStore) each(fn func(key, value []byte) error) error {
	return s.db.IteratePrefix(s.prefix, func(key, value []byte) error {
		return fn(append([]byte(nil), key[len(s.prefix):]...), append([]byte(nil), value...))
	})
}

// idKey builds prefix || big-endian id so keys sort numerically.
func idKey(prefix []byte, id uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)

	return key
}

// ballotKey builds v: || round || user.
func ballotKey(roundID uint64, user common.Address) []byte {
	return append(idKey(prefixBallot, roundID), user[:]...)
}

// depositKey builds p: || user.
func depositKey(user common.Address) []byte {
	return append(append([]byte(nil), prefixDeposit...), user[:]...)
}

func metaKey(name string) []byte {
	return append(append([]byte(nil), prefixMeta...), name...)
}
