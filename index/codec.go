package index

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/salsa20"

	"github.com/shruggr/banyan/compactseq"
	"github.com/shruggr/banyan/link"
)

// nonceSize is the XSalsa20 extended-nonce width; the encrypted index
// block is prefixed with a fresh random nonce of this size, never
// reused across blocks even under a shared IndexKey (spec §4.9).
const nonceSize = 24

const (
	cborArrayStart = 0x9f
	cborArrayBreak = 0xff
)

// wireOuter is the outer frame written for a serialized index block: the
// child links (in child order, purged children omitted) alongside the
// encrypted, zstd-compressed, CBOR-encoded node records. It is grounded
// on the (Vec<Link>, serde_cbor::Value::Bytes) tuple written by
// original_source/banyan/src/index.rs's serialize_compressed.
type wireOuter struct {
	_    struct{} `cbor:",toarray"`
	CIDs []link.Link
	Data []byte
}

// wireNode is one index node's wire record (IndexWC/IndexRC in the
// reference implementation). Count/Level/KeyBytes are present only for
// branch nodes; their absence (CBOR null) marks a leaf.
type wireNode struct {
	Count      *uint64         `cbor:"count"`
	Level      *uint32         `cbor:"level"`
	KeyBytes   *uint64         `cbor:"key_bytes"`
	ValueBytes uint64          `cbor:"value_bytes"`
	Sealed     bool            `cbor:"sealed"`
	Purged     bool            `cbor:"purged"`
	Data       cbor.RawMessage `cbor:"data"`
}

// seqMarshaler is satisfied by every production compactseq.Seq: its
// wire form is the plain CBOR array of its items (compactseq.SimpleSeq
// implements this).
type seqMarshaler interface {
	MarshalCBOR() ([]byte, error)
}

func toWireNode[K any](item Index[K]) (wireNode, error) {
	seq, ok := item.Data().(seqMarshaler)
	if !ok {
		return wireNode{}, fmt.Errorf("index: key sequence does not support CBOR encoding")
	}
	data, err := seq.MarshalCBOR()
	if err != nil {
		return wireNode{}, fmt.Errorf("index: marshal keys: %w", err)
	}
	w := wireNode{
		ValueBytes: item.ValueBytes(),
		Sealed:     item.Sealed(),
		Purged:     item.Purged(),
		Data:       data,
	}
	if item.Kind == KindBranch {
		count := item.Branch.Count
		level := item.Branch.Level
		keyBytes := item.Branch.KeyBytes
		w.Count = &count
		w.Level = &level
		w.KeyBytes = &keyBytes
	}
	return w, nil
}

// SerializeCompressed encodes items as one encrypted, zstd-compressed
// index block. A fresh random nonce is generated for every call.
func SerializeCompressed[K any](indexKey [32]byte, items []Index[K], level int) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("index: generate nonce: %w", err)
	}
	return serializeCompressedWithNonce(indexKey, nonce, items, level)
}

func serializeCompressedWithNonce[K any](indexKey [32]byte, nonce [nonceSize]byte, items []Index[K], level int) ([]byte, error) {
	var cids []link.Link
	for _, item := range items {
		if l := item.LinkPtr(); l != nil {
			cids = append(cids, *l)
		}
	}

	var frame bytes.Buffer
	frame.Write(nonce[:])

	zw, err := zstd.NewWriter(&frame, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("index: new zstd encoder: %w", err)
	}
	if _, err := zw.Write([]byte{cborArrayStart}); err != nil {
		return nil, fmt.Errorf("index: write array start: %w", err)
	}
	for _, item := range items {
		w, err := toWireNode(item)
		if err != nil {
			return nil, err
		}
		encoded, err := cbor.Marshal(w)
		if err != nil {
			return nil, fmt.Errorf("index: marshal node: %w", err)
		}
		if _, err := zw.Write(encoded); err != nil {
			return nil, fmt.Errorf("index: write node: %w", err)
		}
	}
	if _, err := zw.Write([]byte{cborArrayBreak}); err != nil {
		return nil, fmt.Errorf("index: write array break: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("index: close zstd encoder: %w", err)
	}

	compressed := frame.Bytes()
	salsa20.XORKeyStream(compressed[nonceSize:], compressed[nonceSize:], nonce[:], &indexKey)

	return cbor.Marshal(wireOuter{CIDs: cids, Data: compressed})
}

// DeserializeCompressed decodes an index block produced by
// SerializeCompressed. newSeq reconstructs a compactseq.Seq[K] from the
// decoded key slice for each node (ordinarily
// compactseq.NewSimpleSeq bound to the tree's semigroup).
func DeserializeCompressed[K any](indexKey [32]byte, raw []byte, newSeq func([]K) (compactseq.Seq[K], error)) ([]Index[K], error) {
	var outer wireOuter
	if err := cbor.Unmarshal(raw, &outer); err != nil {
		return nil, fmt.Errorf("index: decode outer frame: %w", err)
	}
	if len(outer.Data) < nonceSize {
		return nil, fmt.Errorf("index: compressed block missing nonce")
	}

	nonce := make([]byte, nonceSize)
	copy(nonce, outer.Data[:nonceSize])
	body := make([]byte, len(outer.Data)-nonceSize)
	copy(body, outer.Data[nonceSize:])
	salsa20.XORKeyStream(body, body, nonce, &indexKey)

	zr, err := zstd.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("index: open zstd frame: %w", err)
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("index: decompress frame: %w", err)
	}
	if len(plain) < 2 || plain[0] != cborArrayStart || plain[len(plain)-1] != cborArrayBreak {
		return nil, fmt.Errorf("index: malformed node array framing")
	}

	var nodes []wireNode
	dec := cbor.NewDecoder(bytes.NewReader(plain[1 : len(plain)-1]))
	for {
		var w wireNode
		if err := dec.Decode(&w); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("index: decode node: %w", err)
		}
		nodes = append(nodes, w)
	}

	cids := outer.CIDs
	result := make([]Index[K], 0, len(nodes))
	for _, w := range nodes {
		var keys []K
		if err := cbor.Unmarshal(w.Data, &keys); err != nil {
			return nil, fmt.Errorf("index: decode keys: %w", err)
		}
		seq, err := newSeq(keys)
		if err != nil {
			return nil, fmt.Errorf("index: reconstruct sequence: %w", err)
		}

		var l *link.Link
		if !w.Purged {
			if len(cids) == 0 {
				return nil, fmt.Errorf("index: ran out of links for non-purged node")
			}
			next := cids[0]
			cids = cids[1:]
			l = &next
		}

		if w.Count != nil && w.Level != nil && w.KeyBytes != nil {
			result = append(result, FromBranch(&BranchIndex[K]{
				Count:      *w.Count,
				Level:      *w.Level,
				Sealed:     w.Sealed,
				Link:       l,
				Summaries:  seq,
				ValueBytes: w.ValueBytes,
				KeyBytes:   *w.KeyBytes,
			}))
		} else {
			result = append(result, FromLeaf(&LeafIndex[K]{
				Sealed:     w.Sealed,
				Link:       l,
				Keys:       seq,
				ValueBytes: w.ValueBytes,
			}))
		}
	}
	return result, nil
}
