// Package bus provides the partitioned, append-only event bus abstraction
// the intake engine polls, plus deterministic implementations for tests
// (MemoryBus) and file-based ingestion (FileBus).
//
// The engine treats offsets as opaque, monotonically comparable tokens per
// (topic, partition). Both implementations here use dense int64 sequences,
// tagged with an OffsetKind so stores built from different addressing
// schemes are distinguishable.
package bus

import (
	"context"
	"time"
)

// Offset kinds for the addressing schemes of the built-in buses.
const (
	// OffsetKindSeq is a dense in-memory sequence number.
	OffsetKindSeq = "seq"
	// OffsetKindLine is a zero-based line number in an NDJSON partition file.
	OffsetKindLine = "line"
)

// Record is one bus record: a raw envelope plus its partition coordinates.
type Record struct {
	Topic       string
	Partition   int
	Offset      int64
	OffsetKind  string
	Payload     []byte
	PublishedAt time.Time
}

// Bus is a partitioned, append-only record source.
//
// Implementations must return records in strict offset order within a
// partition and must be safe for concurrent reads across partitions.
// No cross-partition ordering is guaranteed or assumed.
type Bus interface {
	// Partitions lists the partitions present for a topic, ascending.
	Partitions(topic string) ([]int, error)

	// Read returns up to limit records from the partition, starting at
	// fromOffset inclusive. An empty slice means the partition is drained
	// (for static buses) or has nothing new yet.
	Read(ctx context.Context, topic string, partition int, fromOffset int64, limit int) ([]Record, error)
}
