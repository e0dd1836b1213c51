package hashlock

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Variant distinguishes single-fill from multiple-fill locks.
type Variant int

const (
	SingleFill Variant = iota
	MultipleFill
)

func (v Variant) String() string {
	if v == SingleFill {
		return "single"
	}
	return "multiple"
}

// VariantFor returns the lock variant used for a secrets count.
func VariantFor(secretsCount int) Variant {
	if secretsCount == 1 {
		return SingleFill
	}
	return MultipleFill
}

// HashLock is the commitment placed in the order.
type HashLock struct {
	value   common.Hash
	variant Variant
}

// ForSingleFill locks the order with the hash of its only secret.
func ForSingleFill(secret Secret) HashLock {
	return HashLock{value: HashSecret(secret), variant: SingleFill}
}

// ForMultipleFills locks the order with the Merkle root of leaves. The top
// 16 bits of the root are replaced by len(leaves)-1 so resolvers can read
// the parts count from the lock.
func ForMultipleFills(leaves []common.Hash) (HashLock, error) {
	if len(leaves) < 2 || len(leaves) > MaxSecrets {
		return HashLock{}, fmt.Errorf("%w: multiple-fill lock needs 2..%d leaves, got %d",
			ErrInvalidCount, MaxSecrets, len(leaves))
	}

	root := MerkleRoot(leaves)
	value := new(uint256.Int).SetBytes32(root[:])
	mask := new(uint256.Int).Lsh(uint256.NewInt(0xffff), 240)
	value.And(value, new(uint256.Int).Not(mask))
	value.Or(value, new(uint256.Int).Lsh(uint256.NewInt(uint64(len(leaves)-1)), 240))

	return HashLock{value: common.Hash(value.Bytes32()), variant: MultipleFill}, nil
}

// New picks the lock variant from the number of secrets.
func New(secrets SecretSet) (HashLock, error) {
	switch VariantFor(len(secrets)) {
	case SingleFill:
		return ForSingleFill(secrets[0]), nil
	default:
		if len(secrets) == 0 {
			return HashLock{}, fmt.Errorf("%w: 0", ErrInvalidCount)
		}
		return ForMultipleFills(MerkleLeaves(secrets))
	}
}

// Value returns the raw 32-byte lock.
func (h HashLock) Value() common.Hash { return h.value }

// Hex returns the lock as a 0x-prefixed string.
func (h HashLock) Hex() string { return h.value.Hex() }

// Variant returns the lock variant.
func (h HashLock) Variant() Variant { return h.variant }

// PartsCount returns the number of secrets behind a multiple-fill lock, or 1.
func (h HashLock) PartsCount() int {
	if h.variant == SingleFill {
		return 1
	}
	return int(binary.BigEndian.Uint16(h.value[:2])) + 1
}

// MerkleLeaves computes keccak256(uint64(i) || keccak256(secret_i)) for each secret.
func MerkleLeaves(secrets SecretSet) []common.Hash {
	return MerkleLeavesFromHashes(secrets.Hashes())
}

// MerkleLeavesFromHashes computes leaves from already-hashed secrets.
func MerkleLeavesFromHashes(secretHashes []common.Hash) []common.Hash {
	leaves := make([]common.Hash, len(secretHashes))
	var buf [8 + common.HashLength]byte
	for i, h := range secretHashes {
		binary.BigEndian.PutUint64(buf[:8], uint64(i))
		copy(buf[8:], h[:])
		leaves[i] = crypto.Keccak256Hash(buf[:])
	}
	return leaves
}

// MerkleRoot builds a complete binary tree over the sorted leaves, stored in
// array form with leaves at the tail, and hashes every pair in sorted order.
func MerkleRoot(leaves []common.Hash) common.Hash {
	if len(leaves) == 0 {
		return common.Hash{}
	}

	sorted := make([]common.Hash, len(leaves))
	copy(sorted, leaves)
	slices.SortFunc(sorted, common.Hash.Cmp)

	tree := make([]common.Hash, 2*len(sorted)-1)
	for i, leaf := range sorted {
		tree[len(tree)-1-i] = leaf
	}
	for i := len(tree) - 1 - len(sorted); i >= 0; i-- {
		tree[i] = hashPair(tree[2*i+1], tree[2*i+2])
	}
	return tree[0]
}

func hashPair(a, b common.Hash) common.Hash {
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256Hash(a[:], b[:])
}
