// Package model defines the entities of the Noema cognitive knowledge graph:
// nodes, edges with memory sectors, insights, dissonance results, SMF
// proposals, and the shared error taxonomy.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Sector is the memory sector an edge belongs to. The sector selects the
// decay parameters used when scoring edge relevance.
type Sector string

const (
	SectorEmotional  Sector = "emotional"
	SectorEpisodic   Sector = "episodic"
	SectorSemantic   Sector = "semantic"
	SectorProcedural Sector = "procedural"
	SectorReflective Sector = "reflective"
)

// Sectors is the closed set of valid memory sectors.
var Sectors = []Sector{
	SectorEmotional,
	SectorEpisodic,
	SectorSemantic,
	SectorProcedural,
	SectorReflective,
}

// Valid reports whether s is a member of the closed sector set.
func (s Sector) Valid() bool {
	for _, v := range Sectors {
		if s == v {
			return true
		}
	}
	return false
}

// EdgeType distinguishes ordinary edges from identity-defining and
// resolution edges.
type EdgeType string

const (
	EdgeDescriptive  EdgeType = "descriptive"
	EdgeConstitutive EdgeType = "constitutive"
	EdgeResolution   EdgeType = "resolution"
)

// Node is an addressable vertex, unique per (project, name).
type Node struct {
	ID         uuid.UUID      `json:"id"`
	ProjectID  uuid.UUID      `json:"project_id"`
	Name       string         `json:"name"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
	VectorID   *uuid.UUID     `json:"vector_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Edge is a directed relationship between two nodes, unique per
// (project, source, target, relation). Edges are never hard-deleted:
// superseded edges are tombstoned in Properties and filtered from
// default reads.
type Edge struct {
	ID           uuid.UUID      `json:"id"`
	ProjectID    uuid.UUID      `json:"project_id"`
	SourceID     uuid.UUID      `json:"source_id"`
	TargetID     uuid.UUID      `json:"target_id"`
	Relation     string         `json:"relation"`
	Weight       float64        `json:"weight"`
	Properties   map[string]any `json:"properties,omitempty"`
	MemorySector Sector         `json:"memory_sector"`
	CreatedAt    time.Time      `json:"created_at"`
	ModifiedAt   time.Time      `json:"modified_at"`
	LastAccessed *time.Time     `json:"last_accessed,omitempty"`
	LastEngaged  *time.Time     `json:"last_engaged,omitempty"`
	AccessCount  int            `json:"access_count"`
}

// Type returns the edge's type from its properties, defaulting to descriptive.
func (e Edge) Type() EdgeType {
	if s, ok := e.Properties["edge_type"].(string); ok {
		switch EdgeType(s) {
		case EdgeDescriptive, EdgeConstitutive, EdgeResolution:
			return EdgeType(s)
		}
	}
	return EdgeDescriptive
}

// IsConstitutive reports whether the edge is identity-defining. Either
// marker makes the edge constitutive: is_constitutive=true or
// edge_type="constitutive".
func (e Edge) IsConstitutive() bool {
	if b, ok := e.Properties["is_constitutive"].(bool); ok && b {
		return true
	}
	return e.Type() == EdgeConstitutive
}

// IsSuperseded reports whether the edge carries the supersede tombstone.
func (e Edge) IsSuperseded() bool {
	b, ok := e.Properties["superseded"].(bool)
	return ok && b
}

// EngagedAt returns the timestamp used for decay: last_engaged, falling
// back to last_accessed, or nil if the edge has never been touched.
func (e Edge) EngagedAt() *time.Time {
	if e.LastEngaged != nil {
		return e.LastEngaged
	}
	return e.LastAccessed
}

// Neighbor is a node returned by a neighborhood query, annotated with the
// edge that reached it and the decay-adjusted relevance of that edge.
type Neighbor struct {
	Node           Node    `json:"node"`
	Edge           Edge    `json:"edge"`
	Direction      string  `json:"direction"` // incoming or outgoing relative to the query node
	Depth          int     `json:"depth"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Reclassification is the audit stamp merged into edge properties on a
// sector change.
type Reclassification struct {
	FromSector Sector    `json:"from"`
	ToSector   Sector    `json:"to"`
	At         time.Time `json:"at"`
	Actor      string    `json:"actor"`
}
