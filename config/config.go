// Package config holds the shape-constraint knobs the builder packs
// nodes under (spec §4.8).
package config

// Config bounds how large leaves and branches may grow before they
// seal.
type Config struct {
	// TargetLeafSize is the compressed byte threshold at which an open
	// leaf seals.
	TargetLeafSize uint64
	// MaxLeafCount is the event-count threshold at which an open leaf
	// seals, regardless of compressed size.
	MaxLeafCount uint64
	// TargetBranchSize is the compressed index-block byte threshold at
	// which an open branch seals.
	TargetBranchSize uint64
	// MaxBranchCount is the child-count threshold at which an open
	// branch seals, regardless of compressed size.
	MaxBranchCount uint64
	// MaxUncompressedLeafSize is a safety bound on the uncompressed size
	// of a single leaf's CBOR payload, guarding against pathological
	// single-event blowups before compression ever runs.
	MaxUncompressedLeafSize uint64
	// ZstdLevel is the zstd compression level applied to both leaf data
	// blocks and index blocks.
	ZstdLevel int
}

// Default returns production-sized defaults.
func Default() Config {
	return Config{
		TargetLeafSize:          1 << 18, // 256 KiB
		MaxLeafCount:            1 << 14, // 16384 events
		TargetBranchSize:        1 << 18, // 256 KiB
		MaxBranchCount:          1 << 6,  // 64 children
		MaxUncompressedLeafSize: 1 << 24, // 16 MiB
		ZstdLevel:               3,
	}
}

// DebugFast returns small shape limits tuned for fast, deterministic
// tests, matching the Rust reference's Config::debug_fast() used by the
// ops-counting fixture (spec §8 scenario 3).
func DebugFast() Config {
	return Config{
		TargetLeafSize:          10_000,
		MaxLeafCount:            10_000,
		TargetBranchSize:        1_000,
		MaxBranchCount:          10,
		MaxUncompressedLeafSize: 1 << 20,
		ZstdLevel:               1,
	}
}
