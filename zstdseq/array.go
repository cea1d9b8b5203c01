// Package zstdseq implements the compressed array: an append-only,
// zstd-compressed sequence of CBOR-encoded values with O(1) append and
// random-access reads that decompress the whole frame (spec §4.3). Leaf data blocks are
// one such array; the CBOR items are the events' opaque values.
package zstdseq

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// arrayStart and arrayBreak are the CBOR major-type-4 indefinite-length
// array start/break markers (RFC 8949 §3.2.1). The compressed array
// frames its values inside one indefinite array so values can be
// appended without rewriting a definite-length header (spec §9 open
// question, resolved here consistently with index/codec.go).
const (
	arrayStart = 0x9f
	arrayBreak = 0xff
)

// Builder accumulates CBOR-encoded values into a single zstd frame.
// Build() finalizes the frame; a Builder is single-use afterwards.
type Builder struct {
	level int
	buf   bytes.Buffer
	zw    *zstd.Encoder
	count uint64
	open  bool
}

// NewBuilder starts a fresh, empty compressed array at the given zstd
// compression level.
func NewBuilder(level int) (*Builder, error) {
	b := &Builder{level: level}
	if err := b.init(nil); err != nil {
		return nil, err
	}
	return b, nil
}

// InitFrom reopens a previously built array (its raw compressed bytes)
// so more values can be appended to it, used when the builder's tail
// leaf was snapshotted but not yet sealed (spec §4.8 step 1).
func InitFrom(compressed []byte, level int) (*Builder, error) {
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("zstdseq: open existing frame: %w", err)
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("zstdseq: decompress existing frame: %w", err)
	}
	if len(raw) < 2 || raw[0] != arrayStart || raw[len(raw)-1] != arrayBreak {
		return nil, fmt.Errorf("zstdseq: malformed array framing")
	}
	items := raw[1 : len(raw)-1]

	count, err := countItems(items)
	if err != nil {
		return nil, err
	}

	b := &Builder{level: level}
	if err := b.init(items); err != nil {
		return nil, err
	}
	b.count = count
	return b, nil
}

func (b *Builder) init(existingItems []byte) error {
	zw, err := zstd.NewWriter(&b.buf, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(b.level)))
	if err != nil {
		return fmt.Errorf("zstdseq: new encoder: %w", err)
	}
	b.zw = zw
	b.open = true
	if _, err := b.zw.Write([]byte{arrayStart}); err != nil {
		return fmt.Errorf("zstdseq: write array start: %w", err)
	}
	if len(existingItems) > 0 {
		if _, err := b.zw.Write(existingItems); err != nil {
			return fmt.Errorf("zstdseq: rewrite existing items: %w", err)
		}
	}
	return nil
}

// countItems decodes a flat run of concatenated CBOR values to count
// how many there are, without materializing them.
func countItems(raw []byte) (uint64, error) {
	dec := cbor.NewDecoder(bytes.NewReader(raw))
	var n uint64
	for {
		var skip cbor.RawMessage
		if err := dec.Decode(&skip); err != nil {
			if err == io.EOF {
				return n, nil
			}
			return 0, fmt.Errorf("zstdseq: count items: %w", err)
		}
		n++
	}
}

// Push CBOR-encodes value and appends it to the array.
func (b *Builder) Push(value any) error {
	if !b.open {
		return fmt.Errorf("zstdseq: builder already built")
	}
	data, err := cbor.Marshal(value)
	if err != nil {
		return fmt.Errorf("zstdseq: marshal value: %w", err)
	}
	if _, err := b.zw.Write(data); err != nil {
		return fmt.Errorf("zstdseq: write value: %w", err)
	}
	b.count++
	return nil
}

// CompressedSize flushes pending data and reports the compressed byte
// count so far, letting the caller test a size threshold mid-fill
// (spec §4.3: "observable before and after fill").
func (b *Builder) CompressedSize() (uint64, error) {
	if err := b.zw.Flush(); err != nil {
		return 0, fmt.Errorf("zstdseq: flush: %w", err)
	}
	// +1 accounts for the break marker that Build() will still append.
	return uint64(b.buf.Len()) + 1, nil
}

// Count returns the number of values pushed so far.
func (b *Builder) Count() uint64 {
	return b.count
}

// Fill repeatedly calls next, pushing values, until next returns false
// or the compressed size reaches targetSize.
func (b *Builder) Fill(next func() (any, bool), targetSize uint64) error {
	for {
		size, err := b.CompressedSize()
		if err != nil {
			return err
		}
		if size >= targetSize {
			return nil
		}
		v, ok := next()
		if !ok {
			return nil
		}
		if err := b.Push(v); err != nil {
			return err
		}
	}
}

// Build finalizes the frame and returns its bytes. The Builder must not
// be used afterwards.
func (b *Builder) Build() ([]byte, error) {
	if !b.open {
		return nil, fmt.Errorf("zstdseq: builder already built")
	}
	if _, err := b.zw.Write([]byte{arrayBreak}); err != nil {
		return nil, fmt.Errorf("zstdseq: write array break: %w", err)
	}
	if err := b.zw.Close(); err != nil {
		return nil, fmt.Errorf("zstdseq: close encoder: %w", err)
	}
	b.open = false
	return b.buf.Bytes(), nil
}

// Array is the read side of a compressed array: an immutable
// zstd-compressed buffer decoded on demand.
type Array struct {
	compressed []byte
}

// New wraps previously built compressed bytes for reading. It performs
// no validation until Get or Count is called.
func New(compressed []byte) *Array {
	return &Array{compressed: compressed}
}

// Compressed returns the raw compressed bytes backing this array.
func (a *Array) Compressed() []byte {
	return a.compressed
}

// items fully decompresses and splits the array into its raw CBOR item
// boundaries. It is not cached: every Get and Count call decodes the
// frame again.
func (a *Array) items() ([]cbor.RawMessage, error) {
	dec, err := zstd.NewReader(bytes.NewReader(a.compressed))
	if err != nil {
		return nil, fmt.Errorf("zstdseq: open frame: %w", err)
	}
	defer dec.Close()
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("zstdseq: decompress frame: %w", err)
	}
	if len(raw) < 2 || raw[0] != arrayStart || raw[len(raw)-1] != arrayBreak {
		return nil, fmt.Errorf("zstdseq: malformed array framing")
	}

	var items []cbor.RawMessage
	cdec := cbor.NewDecoder(bytes.NewReader(raw[1 : len(raw)-1]))
	for {
		var msg cbor.RawMessage
		if err := cdec.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("zstdseq: decode item: %w", err)
		}
		items = append(items, msg)
	}
	return items, nil
}

// Count decodes the frame and reports how many values it holds.
func (a *Array) Count() (uint64, error) {
	items, err := a.items()
	if err != nil {
		return 0, err
	}
	return uint64(len(items)), nil
}

// Get decodes the value at index i into out. Returns false if i is out
// of range.
func (a *Array) Get(i uint64, out any) (bool, error) {
	items, err := a.items()
	if err != nil {
		return false, err
	}
	if i >= uint64(len(items)) {
		return false, nil
	}
	if err := cbor.Unmarshal(items[i], out); err != nil {
		return false, fmt.Errorf("zstdseq: decode value %d: %w", i, err)
	}
	return true, nil
}

// All decodes every value in order into a []T.
func All[T any](a *Array) ([]T, error) {
	items, err := a.items()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for _, raw := range items {
		var v T
		if err := cbor.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("zstdseq: decode value: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
