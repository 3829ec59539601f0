// Package models contains shared data models used across the redzone codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Content type tags for ingested records.
const (
	ContentTypeTask     = "task"
	ContentTypeFeedback = "feedback"
)

// Category labels assigned by the field-mapping normalizer. A record with no
// category is unclassified ("standard").
const (
	CategoryTop10    = "top_10"
	CategoryBottom10 = "bottom_10"
)

// Record is a persisted unit of ingested content. Uniqueness within a
// partition+type is defined by a natural id found inside Metadata (task_id,
// id, uuid or record_id), not by the record's own ID. Embedding is populated
// asynchronously by the backfill worker; an empty embedding means "not yet
// vectorized".
type Record struct {
	ID          uuid.UUID      `db:"id"           json:"id"`
	PartitionID uuid.UUID      `db:"partition_id" json:"partition_id"`
	ContentType string         `db:"content_type" json:"content_type"`
	Category    *string        `db:"category"     json:"category,omitempty"`
	Source      string         `db:"source"       json:"source"`
	Content     string         `db:"content"      json:"content"`
	Metadata    map[string]any `db:"metadata"     json:"metadata"`
	Embedding   []float32      `db:"embedding"    json:"-"`
	CreatedBy   string         `db:"created_by"   json:"created_by"`
	CreatedAt   time.Time      `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"   json:"updated_at"`
}

// Embedded reports whether the record has a non-empty embedding vector.
func (r *Record) Embedded() bool {
	return len(r.Embedding) > 0
}
