package engine

import (
	"context"

	"github.com/timottowitz/conveyor/id"
	"github.com/timottowitz/conveyor/job"
)

// batchMetadataKey carries the batch correlation ID on every job created by
// SubmitBatch.
const batchMetadataKey = "batch"

// BatchItem is one row of a bulk submission.
type BatchItem struct {
	Type    job.Type
	Payload []byte
	Opts    []job.Option
}

// BatchItemOutcome classifies the result of one batch row.
type BatchItemOutcome string

const (
	// BatchCreated means a new job was accepted for this row.
	BatchCreated BatchItemOutcome = "created"
	// BatchSkipped means deduplication found a live job with the same
	// (type, dedupe key) pair and no new job was created.
	BatchSkipped BatchItemOutcome = "skipped"
	// BatchFailed means this row was rejected; Err carries the reason.
	BatchFailed BatchItemOutcome = "failed"
)

// BatchItemResult reports the outcome of one batch row. For created rows
// JobID is the new job; for skipped rows it is the live duplicate.
type BatchItemResult struct {
	Index   int
	Outcome BatchItemOutcome
	JobID   id.JobID
	Err     error
}

// BatchResult summarizes a bulk submission.
type BatchResult struct {
	// BatchID correlates the created jobs; each carries it in metadata
	// under the "batch" key.
	BatchID id.BatchID
	Created int
	Skipped int
	Failed  int
	Items   []BatchItemResult
}

// BatchOptions configures SubmitBatch.
type BatchOptions struct {
	// SkipExisting skips rows whose (type, dedupe key) pair matches a job
	// that is not yet terminal. Rows without a dedupe key always create.
	SkipExisting bool
}

// SubmitBatch fans items out into independent jobs sharing a batch
// correlation ID. Rows succeed or fail individually; one bad row never
// aborts the rest. Created jobs retry, time out, and report status exactly
// like singly submitted jobs.
func (eng *Engine) SubmitBatch(ctx context.Context, tenantID, ownerID string, items []BatchItem, opts BatchOptions) (*BatchResult, error) {
	result := &BatchResult{
		BatchID: id.NewBatchID(),
		Items:   make([]BatchItemResult, 0, len(items)),
	}

	for i, item := range items {
		row := BatchItemResult{Index: i}

		j, err := eng.buildJob(SubmitRequest{
			TenantID: tenantID,
			OwnerID:  ownerID,
			Type:     item.Type,
			Payload:  item.Payload,
			Opts:     item.Opts,
		})
		if err != nil {
			row.Outcome = BatchFailed
			row.Err = err
			result.Failed++
			result.Items = append(result.Items, row)
			continue
		}

		if opts.SkipExisting && j.DedupeKey != "" {
			dupID, found, err := eng.hasNonTerminalDuplicate(ctx, tenantID, j.Type, j.DedupeKey)
			if err != nil {
				row.Outcome = BatchFailed
				row.Err = err
				result.Failed++
				result.Items = append(result.Items, row)
				continue
			}
			if found {
				row.Outcome = BatchSkipped
				row.JobID = dupID
				result.Skipped++
				result.Items = append(result.Items, row)
				continue
			}
		}

		if j.Metadata == nil {
			j.Metadata = make(map[string]string, 1)
		}
		j.Metadata[batchMetadataKey] = result.BatchID.String()

		if err := eng.jobStore.Create(ctx, j); err != nil {
			row.Outcome = BatchFailed
			row.Err = err
			result.Failed++
			result.Items = append(result.Items, row)
			continue
		}
		eng.extensions.EmitJobSubmitted(ctx, j)

		row.Outcome = BatchCreated
		row.JobID = j.ID
		result.Created++
		result.Items = append(result.Items, row)
	}

	return result, nil
}
