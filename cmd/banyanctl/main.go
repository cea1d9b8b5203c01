// Command banyanctl is the host CLI for Banyan: flag parsing, slog
// setup, and a block-store backend switch, driving a Service through
// stream append/query/list operations.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/shruggr/banyan/blockstore"
	badgerstore "github.com/shruggr/banyan/blockstore/badger"
	memstore "github.com/shruggr/banyan/blockstore/memory"
	"github.com/shruggr/banyan/cache"
	cachememory "github.com/shruggr/banyan/cache/memory"
	"github.com/shruggr/banyan/compactseq"
	"github.com/shruggr/banyan/config"
	"github.com/shruggr/banyan/eventsource"
	"github.com/shruggr/banyan/link"
	"github.com/shruggr/banyan/query"
	"github.com/shruggr/banyan/rangekey"
	regsqlite "github.com/shruggr/banyan/registry/sqlite"
	"github.com/shruggr/banyan/service"
)

// lineSource extracts one event per non-empty line of a Record's raw
// bytes, each line a decimal offset.
type lineSource struct{}

func (lineSource) Extract(ctx context.Context, rec *eventsource.Record) ([]eventsource.Event[rangekey.Key, uint64], error) {
	var events []eventsource.Event[rangekey.Key, uint64]
	scanner := bufio.NewScanner(strings.NewReader(string(rec.Raw)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseUint(line, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("banyanctl: parse event line %q: %w", line, err)
		}
		events = append(events, eventsource.Event[rangekey.Key, uint64]{Key: rangekey.Single(v), Value: v})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("banyanctl: scan input: %w", err)
	}
	return events, nil
}

func (lineSource) Name() string { return "lineSource" }

func newSeq(items []rangekey.Key) (compactseq.Seq[rangekey.Key], error) {
	return compactseq.NewSimpleSeq[rangekey.Key](rangekey.Semigroup{}, items)
}

func main() {
	storageType := flag.String("storage", "badger", "Block store backend: memory or badger")
	dataDir := flag.String("data-dir", "./data", "Data directory for the badger block store")
	registryPath := flag.String("registry-path", "./registry.db", "SQLite path for the stream registry")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")

	op := flag.String("op", "append", "Operation: append, query, or list")
	stream := flag.String("stream", "default", "Stream name")
	input := flag.String("input", "-", "For -op append: a file of newline-separated uint64 offsets, or - for stdin")
	start := flag.Uint64("start", 0, "For -op query: inclusive range start offset")
	end := flag.Uint64("end", 0, "For -op query: exclusive range end offset; 0 means unbounded (use -op query with -start=-end=0 for AllQuery)")
	cacheSize := flag.Int("branch-cache-size", 1024, "Branch cache entry capacity; 0 disables caching")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var store blockstore.Store
	var err error
	switch *storageType {
	case "memory":
		logger.Info("using in-memory block store")
		store = memstore.New(link.SHA256)
	case "badger":
		logger.Info("using badger block store", "data_dir", *dataDir)
		store, err = badgerstore.New(&badgerstore.Config{DataDir: *dataDir, Algorithm: link.SHA256})
		if err != nil {
			log.Fatalf("failed to open badger block store: %v", err)
		}
	default:
		log.Fatalf("unknown storage type: %s (use 'memory' or 'badger')", *storageType)
	}
	defer store.Close()

	reg, err := regsqlite.New(&regsqlite.Config{DBPath: *registryPath})
	if err != nil {
		log.Fatalf("failed to open registry: %v", err)
	}

	var bcache cache.BranchCache[rangekey.Key]
	if *cacheSize > 0 {
		bcache, err = cachememory.New[rangekey.Key](*cacheSize)
		if err != nil {
			log.Fatalf("failed to create branch cache: %v", err)
		}
	}

	svc := service.New[rangekey.Key, uint64](store, reg, bcache, config.Default(), rangekey.Semigroup{}, newSeq, logger)
	defer svc.Close()

	ctx := context.Background()

	switch *op {
	case "append":
		var r *os.File
		if *input == "-" {
			r = os.Stdin
		} else {
			r, err = os.Open(*input)
			if err != nil {
				log.Fatalf("failed to open input %q: %v", *input, err)
			}
			defer r.Close()
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			log.Fatalf("failed to read input: %v", err)
		}
		ptr, err := svc.Append(ctx, *stream, lineSource{}, &eventsource.Record{Raw: raw})
		if err != nil {
			log.Fatalf("append failed: %v", err)
		}
		logger.Info("append complete", "stream", *stream, "count", ptr.Count, "level", ptr.Level)

	case "query":
		var q query.Query[rangekey.Key]
		if *start == 0 && *end == 0 {
			q = query.AllQuery[rangekey.Key]{}
		} else {
			e := *end
			if e == 0 {
				e = math.MaxUint64
			}
			q = query.OffsetRangeQuery[rangekey.Key]{Start: *start, End: e}
		}
		events, err := svc.Query(ctx, *stream, q)
		if err != nil {
			log.Fatalf("query failed: %v", err)
		}
		for _, e := range events {
			fmt.Printf("%d\t%d\n", e.Offset, e.Value)
		}
		logger.Info("query complete", "stream", *stream, "matched", len(events))

	case "list":
		names, err := svc.Streams(ctx)
		if err != nil {
			log.Fatalf("list failed: %v", err)
		}
		for _, name := range names {
			fmt.Println(name)
		}

	default:
		log.Fatalf("unknown op: %s (use 'append', 'query', or 'list')", *op)
	}
}
