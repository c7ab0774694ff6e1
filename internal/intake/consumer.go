package intake

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracefold/tracefold/internal/bus"
)

// Defaults for the polling loop.
const (
	DefaultPollMaxRecords = 256
	DefaultPollSleep      = 250 * time.Millisecond
)

// Consumer runs per-partition polling loops over a bus, feeding each record
// through the Processor. Partitions poll concurrently; all writes funnel
// through the store's single-writer connection, which serializes the
// admission transactions.
type Consumer struct {
	Bus       bus.Bus
	Processor *Processor
	Logger    *slog.Logger

	// PollMaxRecords caps one Read call. Zero means DefaultPollMaxRecords.
	PollMaxRecords int
	// PollSleep is the idle wait between empty polls. Zero means
	// DefaultPollSleep.
	PollSleep time.Duration
	// Drain stops a partition loop after the first empty poll instead of
	// sleeping. Used for static buses (file ingestion, tests).
	Drain bool
}

// RunPartition polls one partition until the context is cancelled, the
// partition drains (in Drain mode), or a write fails.
//
// Cancellation is only observed between records: a record whose admission
// transaction has begun always completes, so the checkpoint and its write
// land together or not at all.
func (c *Consumer) RunPartition(ctx context.Context, topic string, partition int) error {
	limit := c.PollMaxRecords
	if limit <= 0 {
		limit = DefaultPollMaxRecords
	}
	sleep := c.PollSleep
	if sleep <= 0 {
		sleep = DefaultPollSleep
	}

	session := uuid.Must(uuid.NewV7()).String()
	log := c.Logger.With("session", session, "topic", topic, "partition", partition)

	from := int64(0)
	cp, ok, err := c.Processor.Store.Checkpoint(ctx, topic, partition)
	if err != nil {
		return fmt.Errorf("run partition %s/%d: %w", topic, partition, err)
	}
	if ok {
		from = cp.NextOffset
	}
	log.Info("partition loop started", "from_offset", from)

	for {
		records, err := c.Bus.Read(ctx, topic, partition, from, limit)
		if err != nil {
			return fmt.Errorf("run partition %s/%d: read: %w", topic, partition, err)
		}

		if len(records) == 0 {
			if c.Drain {
				log.Info("partition drained", "next_offset", from)
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
				continue
			}
		}

		for _, rec := range records {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			res, err := c.Processor.ProcessRecord(ctx, rec)
			if err != nil {
				log.Error("record processing failed", "offset", rec.Offset, "error", err)
				return fmt.Errorf("run partition %s/%d: %w", topic, partition, err)
			}
			if res.CheckpointAdvanced || res.WriteStatus == StatusAlreadyProcessed {
				from = rec.Offset + 1
			}
		}
	}
}

// RunTopics runs every partition of every topic concurrently and waits for
// all loops to finish. The first failure is returned; the remaining loops
// are cancelled.
func (c *Consumer) RunTopics(ctx context.Context, topics []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, topic := range topics {
		partitions, err := c.Bus.Partitions(topic)
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("run topics: partitions for %s: %w", topic, err)
		}
		for _, partition := range partitions {
			wg.Add(1)
			go func(topic string, partition int) {
				defer wg.Done()
				if err := c.RunPartition(ctx, topic, partition); err != nil && ctx.Err() == nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					cancel()
				}
			}(topic, partition)
		}
	}

	wg.Wait()
	return firstErr
}
