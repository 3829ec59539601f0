package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rbayer/redzone/internal/store"
)

// naturalIDFields is the ordered list of metadata keys recognized as a
// natural identifier for duplicate detection.
var naturalIDFields = []string{"task_id", "id", "uuid", "record_id"}

// Skip reason labels tallied on the job record.
const (
	SkipReasonDuplicate = "Duplicate ID"
	SkipReasonFiltered  = "Filtered by keyword"
)

// NaturalID extracts the application-supplied natural identifier from a raw
// record, checking the recognized key names in order. Returns "" when none
// is present, meaning the record cannot be deduplicated.
func NaturalID(raw map[string]any) string {
	for _, field := range naturalIDFields {
		v, ok := raw[field]
		if !ok {
			continue
		}
		if id := stringifyID(v); id != "" {
			return id
		}
	}
	return ""
}

func stringifyID(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		// JSON numbers decode as float64; whole values print without a
		// fraction so they match text stored from CSV input.
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// DuplicateDetector checks candidates against the durable store so that
// duplicates across separate ingest runs are caught. One-active-job-per-
// partition serializes writers, so the check does not need to be
// transactionally race-proof beyond read-committed reads.
type DuplicateDetector struct {
	store store.Store
}

func NewDuplicateDetector(st store.Store) *DuplicateDetector {
	return &DuplicateDetector{store: st}
}

// IsDuplicate reports whether the candidate's natural id already exists in
// the partition+type. Candidates without a natural id are never duplicates.
func (d *DuplicateDetector) IsDuplicate(ctx context.Context, partitionID uuid.UUID, contentType string, candidate Candidate) (bool, error) {
	if candidate.Raw == nil {
		return false, nil
	}
	naturalID := NaturalID(candidate.Raw)
	if naturalID == "" {
		return false, nil
	}
	exists, err := d.store.RecordExistsByNaturalID(ctx, partitionID, contentType, naturalID)
	if err != nil {
		return false, fmt.Errorf("duplicate check: %w", err)
	}
	return exists, nil
}
