package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Insight is a compressed memory item with an embedding vector. Insights are
// produced outside the core (the L2 compression pipeline) and consumed here
// for memory-strength lookups and the insight write tools.
type Insight struct {
	ID             uuid.UUID        `json:"id"`
	ProjectID      uuid.UUID        `json:"project_id"`
	Content        string           `json:"content"`
	Embedding      *pgvector.Vector `json:"-"`
	SourceIDs      []int64          `json:"source_ids,omitempty"`
	MemoryStrength float64          `json:"memory_strength"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	IsDeleted      bool             `json:"is_deleted"`
	DeletedAt      *time.Time       `json:"deleted_at,omitempty"`
	DeletedBy      *string          `json:"deleted_by,omitempty"`
	DeletedReason  *string          `json:"deleted_reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}
