// Package access tracks a fixed admin signer set and per-request approvals.
package access

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotAdmin      = errors.New("not admin")
	ErrNoSigners     = errors.New("no admin signers")
	ErrInvalidQuorum = errors.New("invalid quorum threshold")
	ErrBadSignature  = errors.New("invalid approval signature")
	ErrNoSignerKey   = errors.New("signer has no BLS key")
)

// Config is the signer set and approval threshold.
type Config struct {
	Signers   []common.Address          // Signers may repeat; duplicates collapse
	Threshold int                       // Threshold is the number of distinct approvals required
	BLSKeys   map[common.Address][]byte // BLSKeys are optional compressed public keys for signed approvals
}

// Control holds the immutable signer set and the mutable approval state.
type Control struct {
	signers   []common.Address       // signers in first-seen order
	index     map[common.Address]int // index maps a signer to its bit
	threshold int                    // threshold of distinct approvals
	blsKeys   map[common.Address][]byte
	approvals map[uint64]*bitset.BitSet // approvals per request id
}

// New validates cfg and builds a Control.
func New(cfg Config) (*Control, error) {
	c := &Control{
		index:     make(map[common.Address]int),
		blsKeys:   make(map[common.Address][]byte),
		approvals: make(map[uint64]*bitset.BitSet),
	}

	for _, s := range cfg.Signers {
		if s == (common.Address{}) {
			return nil, fmt.Errorf("%w: zero address signer", ErrNoSigners)
		}
		if _, dup := c.index[s]; dup {
			continue
		}
		c.index[s] = len(c.signers)
		c.signers = append(c.signers, s)
	}

	if len(c.signers) == 0 {
		return nil, ErrNoSigners
	}

	if cfg.Threshold < 1 || cfg.Threshold > len(c.signers) {
		return nil, fmt.Errorf("%w: %d of %d distinct signers", ErrInvalidQuorum, cfg.Threshold, len(c.signers))
	}
	c.threshold = cfg.Threshold

	for addr, key := range cfg.BLSKeys {
		if _, ok := c.index[addr]; !ok {
			return nil, fmt.Errorf("BLS key for non-signer %s", addr.Hex())
		}
		if !validPublicKey(key) {
			return nil, fmt.Errorf("invalid BLS key for %s", addr.Hex())
		}
		c.blsKeys[addr] = append([]byte(nil), key...)
	}

	return c, nil
}

// IsSigner reports whether addr belongs to the signer set.
func (c *Control) IsSigner(addr common.Address) bool {
	_, ok := c.index[addr]
	return ok
}

// Signers returns the distinct signers in configuration order.
func (c *Control) Signers() []common.Address {
	return append([]common.Address(nil), c.signers...)
}

// Threshold returns the number of distinct approvals needed for quorum.
func (c *Control) Threshold() int {
	return c.threshold
}

// Approve records signer's approval of requestID and returns the approval count.
// Approving twice is a no-op.
func (c *Control) Approve(requestID uint64, signer common.Address) (int, error) {
	idx, ok := c.index[signer]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotAdmin, signer.Hex())
	}

	set := c.approvals[requestID]
	if set == nil {
		set = bitset.New(uint(len(c.signers)))
		c.approvals[requestID] = set
	}
	set.Set(uint(idx))

	return int(set.Count()), nil
}

// ApproveSigned verifies signer's BLS signature over message before approving.
func (c *Control) ApproveSigned(requestID uint64, signer common.Address, message, signature []byte) (int, error) {
	if !c.IsSigner(signer) {
		return 0, fmt.Errorf("%w: %s", ErrNotAdmin, signer.Hex())
	}

	key, ok := c.blsKeys[signer]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoSignerKey, signer.Hex())
	}

	if !verifyBLS(signature, message, key) {
		return 0, ErrBadSignature
	}

	return c.Approve(requestID, signer)
}

// ApprovalCount returns the number of distinct approvals of requestID.
func (c *Control) ApprovalCount(requestID uint64) int {
	set := c.approvals[requestID]
	if set == nil {
		return 0
	}
	return int(set.Count())
}

// HasQuorum reports whether requestID reached the threshold.
func (c *Control) HasQuorum(requestID uint64) bool {
	return c.ApprovalCount(requestID) >= c.threshold
}

// Approvals returns the signers that approved requestID.
func (c *Control) Approvals(requestID uint64) []common.Address {
	set := c.approvals[requestID]
	if set == nil {
		return nil
	}

	var out []common.Address
	for i, ok := set.NextSet(0); ok; i, ok = set.NextSet(i + 1) {
		out = append(out, c.signers[i])
	}

	return out
}

// ApprovalBitmap returns the approval set of requestID as a signer-index bitmap.
// Bit i refers to Signers()[i].
func (c *Control) ApprovalBitmap(requestID uint64) []byte {
	bitmap := make([]byte, (len(c.signers)+7)/8)

	set := c.approvals[requestID]
	if set == nil {
		return bitmap
	}

	for i, ok := set.NextSet(0); ok; i, ok = set.NextSet(i + 1) {
		bitmap[i/8] |= 1 << (i % 8)
	}

	return bitmap
}

// RestoreApprovals loads a bitmap produced by ApprovalBitmap.
// Bits past the signer set are ignored.
func (c *Control) RestoreApprovals(requestID uint64, bitmap []byte) {
	set := bitset.New(uint(len(c.signers)))

	for byteIdx, b := range bitmap {
		for bit := 0; bit < 8; bit++ {
			idx := byteIdx*8 + bit
			if b&(1<<bit) != 0 && idx < len(c.signers) {
				set.Set(uint(idx))
			}
		}
	}

	if set.Any() {
		c.approvals[requestID] = set
	} else {
		delete(c.approvals, requestID)
	}
}
