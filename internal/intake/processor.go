// Package intake drives records from the bus through validation and into
// the store. The Processor handles one record end to end; the Consumer
// wraps it in per-partition polling loops.
package intake

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tracefold/tracefold/internal/bus"
	"github.com/tracefold/tracefold/internal/envelope"
	"github.com/tracefold/tracefold/internal/inlet"
	"github.com/tracefold/tracefold/internal/policy"
	"github.com/tracefold/tracefold/internal/store"
)

// ReasonWriteFailed marks a record whose admission transaction failed. The
// checkpoint does not advance, so the record is retried on the next poll.
const ReasonWriteFailed = "WRITE_FAILED"

// WriteStatus is the terminal disposition of one processed record.
type WriteStatus string

const (
	StatusStored           WriteStatus = "STORED"
	StatusDuplicate        WriteStatus = "DUPLICATE"
	StatusQuarantined      WriteStatus = "QUARANTINED"
	StatusRunScopeSkipped  WriteStatus = "RUN_SCOPE_SKIPPED"
	StatusAlreadyProcessed WriteStatus = "ALREADY_PROCESSED"
	StatusWriteFailed      WriteStatus = "WRITE_FAILED"
)

// Result is the outcome of processing one bus record.
type Result struct {
	Accepted           bool
	ReasonCode         string
	Detail             string
	WriteStatus        WriteStatus
	CheckpointAdvanced bool
}

// Processor validates and persists bus records one at a time.
// It is stateless between records; all durable state lives in the store.
type Processor struct {
	Store  *store.Store
	Policy *policy.Policy
	Logger *slog.Logger
}

// ProcessRecord runs the full admission pipeline for one record:
// checkpoint guard, inlet validation, then the appropriate durable write.
// Every disposition except a write failure advances the checkpoint in the
// same transaction as its write.
//
// A returned error always means the checkpoint did not advance and the
// record is safe to retry.
func (p *Processor) ProcessRecord(ctx context.Context, rec bus.Record) (Result, error) {
	log := p.Logger.With(
		"topic", rec.Topic,
		"partition", rec.Partition,
		"offset", rec.Offset,
	)

	// Replay guard: offsets below the checkpoint were already durably
	// handled, counted, and (if relevant) quarantined.
	cp, ok, err := p.Store.Checkpoint(ctx, rec.Topic, rec.Partition)
	if err != nil {
		return Result{WriteStatus: StatusWriteFailed, ReasonCode: ReasonWriteFailed, Detail: err.Error()},
			fmt.Errorf("process record: %w", err)
	}
	if ok && rec.Offset < cp.NextOffset {
		log.Debug("record already processed", "next_offset", cp.NextOffset)
		return Result{WriteStatus: StatusAlreadyProcessed}, nil
	}

	nextOffset := rec.Offset + 1
	res := inlet.Evaluate(rec, p.Policy)
	scope := res.Pins.Scope()

	if !res.Accepted {
		if res.ReasonCode == inlet.ReasonRunScopeMismatch {
			// Out-of-scope records are someone else's traffic: skip them
			// without polluting the quarantine log.
			if err := p.Store.AdvanceCheckpoint(ctx, scope, sourceRef(rec), rec.OffsetKind, nextOffset, store.MetricRunScopeSkipped); err != nil {
				return Result{WriteStatus: StatusWriteFailed, ReasonCode: ReasonWriteFailed, Detail: err.Error()},
					fmt.Errorf("process record: %w", err)
			}
			log.Info("record skipped", "reason", res.ReasonCode, "detail", res.Detail)
			return Result{
				ReasonCode:         res.ReasonCode,
				Detail:             res.Detail,
				WriteStatus:        StatusRunScopeSkipped,
				CheckpointAdvanced: true,
			}, nil
		}

		q := store.QuarantineRow{
			Source:     sourceRef(rec),
			ReasonCode: res.ReasonCode,
			Detail:     res.Detail,
			RawPayload: string(rec.Payload),
			Scope:      scope,
		}
		if err := p.Store.QuarantineRecord(ctx, scope, q, rec.OffsetKind, nextOffset); err != nil {
			return Result{WriteStatus: StatusWriteFailed, ReasonCode: ReasonWriteFailed, Detail: err.Error()},
				fmt.Errorf("process record: %w", err)
		}
		log.Warn("record quarantined", "reason", res.ReasonCode, "detail", res.Detail)
		return Result{
			ReasonCode:         res.ReasonCode,
			Detail:             res.Detail,
			WriteStatus:        StatusQuarantined,
			CheckpointAdvanced: true,
		}, nil
	}

	canonical, err := envelope.CanonicalPayload(res.Candidate.Payload)
	if err != nil {
		// Contract-valid JSON that cannot be canonicalized should not
		// happen; treat it as a write failure so the record surfaces on
		// retry rather than vanishing.
		return Result{WriteStatus: StatusWriteFailed, ReasonCode: ReasonWriteFailed, Detail: err.Error()},
			fmt.Errorf("process record: canonicalize: %w", err)
	}

	adm, err := p.Store.AdmitCandidate(ctx, res.Candidate, canonical, rec.OffsetKind, nextOffset)
	if err != nil {
		return Result{WriteStatus: StatusWriteFailed, ReasonCode: ReasonWriteFailed, Detail: err.Error()},
			fmt.Errorf("process record: %w", err)
	}

	switch adm.Status {
	case store.AdmissionStored:
		log.Info("record admitted", "event_id", res.Candidate.EventID, "kind", res.Candidate.Kind.String())
		return Result{Accepted: true, WriteStatus: StatusStored, CheckpointAdvanced: true}, nil
	case store.AdmissionDuplicate:
		log.Debug("duplicate record", "event_id", res.Candidate.EventID)
		return Result{Accepted: true, WriteStatus: StatusDuplicate, CheckpointAdvanced: true}, nil
	default:
		log.Warn("record quarantined", "reason", adm.ReasonCode, "detail", adm.Detail)
		return Result{
			ReasonCode:         adm.ReasonCode,
			Detail:             adm.Detail,
			WriteStatus:        StatusQuarantined,
			CheckpointAdvanced: true,
		}, nil
	}
}

func sourceRef(rec bus.Record) envelope.SourceRef {
	return envelope.SourceRef{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
	}
}
