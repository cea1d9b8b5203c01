// Package link implements the content hash and CID wrapping used to
// address every block the tree writes: leaves, index nodes, and the
// root pointer itself.
package link

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"lukechampine.com/blake3"
)

// Size is the fixed digest width every Link carries.
const Size = 32

// Algorithm selects the hash function used to derive a Link from block
// bytes. The tree only requires a fixed 32-byte digest (spec §4.1); the
// concrete function is a storage-layer choice, not a tree invariant.
type Algorithm uint64

const (
	// SHA256 is the conventional default: a content hash over the
	// serialized block bytes.
	SHA256 Algorithm = Algorithm(mh.SHA2_256)
	// BLAKE3 trades the stdlib implementation for a faster hash when
	// write throughput dominates; index nodes and leaves hash identically
	// either way since the algorithm is fixed per store, not per node.
	BLAKE3 Algorithm = Algorithm(mh.BLAKE3)
)

// Link is a 32-byte digest over a block's serialized bytes. Equality and
// ordering are bitwise.
type Link [Size]byte

// Digest computes the Link for data under the given algorithm.
func Digest(data []byte, algo Algorithm) (Link, error) {
	var sum [Size]byte
	switch Algorithm(algo) {
	case SHA256:
		sum = sha256.Sum256(data)
	case BLAKE3:
		sum = blake3.Sum256(data)
	default:
		return Link{}, fmt.Errorf("link: unsupported algorithm %#x", uint64(algo))
	}
	return Link(sum), nil
}

// Bytes returns the raw 32-byte digest.
func (l Link) Bytes() []byte {
	return l[:]
}

// Hex returns the hex-encoded digest, useful for log lines and keys in
// non-binary stores.
func (l Link) Hex() string {
	return hex.EncodeToString(l[:])
}

// IsZero reports whether l is the zero Link, used as a sentinel for "no
// link" in contexts where Go's nil isn't available (e.g. map keys,
// fixed-size struct fields).
func (l Link) IsZero() bool {
	return l == Link{}
}

func (l Link) String() string {
	return l.Hex()
}

// CID wraps the Link as a canonical CID: a raw-binary-codec multihash of
// the configured algorithm. External stores and tooling exchange CIDs;
// the tree engine itself only ever compares Links.
func (l Link) CID(algo Algorithm) (cid.Cid, error) {
	h, err := mh.Encode(l[:], uint64(algo))
	if err != nil {
		return cid.Undef, fmt.Errorf("link: multihash encode: %w", err)
	}
	return cid.NewCidV1(cid.Raw, h), nil
}

// FromCID extracts the 32-byte digest embedded in a CID produced by CID
// above. It does not re-verify the hash against any data; callers that
// need that guarantee should re-derive the Link with Digest and compare.
func FromCID(c cid.Cid) (Link, error) {
	decoded, err := mh.Decode(c.Hash())
	if err != nil {
		return Link{}, fmt.Errorf("link: invalid multihash: %w", err)
	}
	if len(decoded.Digest) != Size {
		return Link{}, fmt.Errorf("link: expected %d-byte digest, got %d", Size, len(decoded.Digest))
	}
	var l Link
	copy(l[:], decoded.Digest)
	return l, nil
}

// MarshalCBOR encodes the Link as a 32-byte CBOR byte string, so it
// round-trips through index blocks without depending on the library's
// default encoding of fixed-size byte arrays.
func (l Link) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(l[:])
}

// UnmarshalCBOR decodes a 32-byte CBOR byte string into l.
func (l *Link) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("link: decode: %w", err)
	}
	if len(b) != Size {
		return fmt.Errorf("link: expected %d-byte digest, got %d", Size, len(b))
	}
	copy(l[:], b)
	return nil
}

// Less implements a total order over Links for deterministic sorting
// (e.g. when enumerating a temp pin's contents for tests).
func Less(a, b Link) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
