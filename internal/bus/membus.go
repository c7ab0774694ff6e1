package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryBus is an in-memory Bus for tests and the scenario harness.
//
// Records are appended per (topic, partition) and assigned dense sequence
// offsets starting at zero. Appends and reads are safe from any goroutine.
type MemoryBus struct {
	mu         sync.Mutex
	partitions map[string]map[int][]Record
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{partitions: make(map[string]map[int][]Record)}
}

// Append adds a raw payload to the back of a partition and returns the
// offset it was assigned.
func (b *MemoryBus) Append(topic string, partition int, payload []byte) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.partitions[topic] == nil {
		b.partitions[topic] = make(map[int][]Record)
	}
	offset := int64(len(b.partitions[topic][partition]))
	b.partitions[topic][partition] = append(b.partitions[topic][partition], Record{
		Topic:      topic,
		Partition:  partition,
		Offset:     offset,
		OffsetKind: OffsetKindSeq,
		Payload:    payload,
	})
	return offset
}

// Partitions lists the partitions present for a topic, ascending.
func (b *MemoryBus) Partitions(topic string) ([]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	parts := make([]int, 0, len(b.partitions[topic]))
	for p := range b.partitions[topic] {
		parts = append(parts, p)
	}
	sort.Ints(parts)
	return parts, nil
}

// Read returns up to limit records starting at fromOffset inclusive.
func (b *MemoryBus) Read(ctx context.Context, topic string, partition int, fromOffset int64, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fromOffset < 0 {
		return nil, fmt.Errorf("read %s/%d: negative offset %d", topic, partition, fromOffset)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	records := b.partitions[topic][partition]
	if fromOffset >= int64(len(records)) {
		return []Record{}, nil
	}

	end := fromOffset + int64(limit)
	if end > int64(len(records)) {
		end = int64(len(records))
	}

	out := make([]Record, end-fromOffset)
	copy(out, records[fromOffset:end])
	return out, nil
}
