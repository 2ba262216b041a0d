package tasks

import "fmt"

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	JobID   string // Job the update belongs to
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase (0 when unknown)
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	ListKeys Phase = iota
	FetchValues
	EncodeExport
	ParsePayload
	WriteBatches
	DeleteBatches
	Finalize
)

func (p Phase) String() string {
	switch p {
	case ListKeys:
		return "list_keys"
	case FetchValues:
		return "fetch_values"
	case EncodeExport:
		return "encode_export"
	case ParsePayload:
		return "parse_payload"
	case WriteBatches:
		return "write_batches"
	case DeleteBatches:
		return "delete_batches"
	case Finalize:
		return "finalize"
	default:
		return ""
	}
}

func listPageUpdate(jobID string, page, keys int) ProgressUpdate {
	return ProgressUpdate{
		JobID:   jobID,
		Phase:   ListKeys,
		Step:    page,
		Message: fmt.Sprintf("Listed page %d (%d keys)", page, keys),
	}
}

func fetchedPageUpdate(jobID string, included, seen int) ProgressUpdate {
	return ProgressUpdate{
		JobID:   jobID,
		Phase:   FetchValues,
		Step:    included,
		Total:   seen,
		Message: fmt.Sprintf("Fetched %d/%d values", included, seen),
	}
}

func encodeUpdate(jobID string, format string, count int) ProgressUpdate {
	return ProgressUpdate{
		JobID:   jobID,
		Phase:   EncodeExport,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Encoding %d keys as %s...", count, format),
	}
}

func parsedUpdate(format string, count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ParsePayload,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Parsed %d records (%s)", count, format),
	}
}

func batchUpdate(jobID string, phase Phase, step, total, size int, err error) ProgressUpdate {
	if err != nil {
		return ProgressUpdate{
			JobID:   jobID,
			Phase:   phase,
			Step:    step,
			Total:   total,
			Message: fmt.Sprintf("[%d/%d] ✗ batch of %d: %v", step, total, size, err),
		}
	}
	return ProgressUpdate{
		JobID:   jobID,
		Phase:   phase,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ batch of %d", step, total, size),
	}
}

func finalizeUpdate(jobID string, status string, processed, errors int) ProgressUpdate {
	return ProgressUpdate{
		JobID:   jobID,
		Phase:   Finalize,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Job %s %s (processed %d, errors %d)", jobID, status, processed, errors),
	}
}
