package fake

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ethr-ai/noema/internal/memory"
	"github.com/ethr-ai/noema/internal/model"
	"github.com/ethr-ai/noema/internal/storage"
)

// FakeMutator is an in-memory storage.Mutator for unit tests. It mirrors the
// store's observable semantics (upsert on node name, sector classification on
// insert, supersede and orphan stamps) without a database.
type FakeMutator struct {
	Nodes    map[uuid.UUID]model.Node
	Edges    map[uuid.UUID]model.Edge
	Reviews  map[uuid.UUID]model.NuanceReview
	Insights map[uuid.UUID]model.Insight
	Audit    []model.AuditEntry
}

var _ storage.Mutator = (*FakeMutator)(nil)

// NewFakeMutator creates an empty fake.
func NewFakeMutator() *FakeMutator {
	return &FakeMutator{
		Nodes:    make(map[uuid.UUID]model.Node),
		Edges:    make(map[uuid.UUID]model.Edge),
		Reviews:  make(map[uuid.UUID]model.NuanceReview),
		Insights: make(map[uuid.UUID]model.Insight),
	}
}

// PutEdge seeds an edge, assigning an id when unset.
func (f *FakeMutator) PutEdge(e model.Edge) model.Edge {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	f.Edges[e.ID] = e
	return e
}

// PutReview seeds a review, assigning an id when unset.
func (f *FakeMutator) PutReview(r model.NuanceReview) model.NuanceReview {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	f.Reviews[r.ID] = r
	return r
}

// PutInsight seeds an insight, assigning an id when unset.
func (f *FakeMutator) PutInsight(i model.Insight) model.Insight {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	f.Insights[i.ID] = i
	return i
}

// AuditActions returns the recorded audit action names in order.
func (f *FakeMutator) AuditActions() []string {
	out := make([]string, len(f.Audit))
	for i, e := range f.Audit {
		out[i] = e.Action
	}
	return out
}

func (f *FakeMutator) AddNode(_ context.Context, name, label string, properties map[string]any) (model.Node, error) {
	for _, n := range f.Nodes {
		if n.Name == name {
			return n, nil
		}
	}
	node := model.Node{ID: uuid.New(), Name: name, Label: label, Properties: properties, CreatedAt: time.Now().UTC()}
	f.Nodes[node.ID] = node
	return node, nil
}

func (f *FakeMutator) AddEdge(_ context.Context, p storage.AddEdgeParams) (model.Edge, error) {
	for _, e := range f.Edges {
		if e.SourceID == p.SourceID && e.TargetID == p.TargetID && e.Relation == p.Relation {
			return model.Edge{}, storage.ErrUniqueViolation
		}
	}
	sector := p.Sector
	if sector == "" {
		sector, _ = memory.Classify(p.Relation, p.Properties)
	}
	edge := model.Edge{
		ID:           uuid.New(),
		SourceID:     p.SourceID,
		TargetID:     p.TargetID,
		Relation:     p.Relation,
		Weight:       p.Weight,
		Properties:   p.Properties,
		MemorySector: sector,
		CreatedAt:    time.Now().UTC(),
	}
	f.Edges[edge.ID] = edge
	return edge, nil
}

func (f *FakeMutator) GetEdge(_ context.Context, id uuid.UUID) (model.Edge, error) {
	e, ok := f.Edges[id]
	if !ok {
		return model.Edge{}, storage.ErrNotFound
	}
	return e, nil
}

func (f *FakeMutator) SetEdgeProperties(_ context.Context, id uuid.UUID, merge map[string]any) error {
	e, ok := f.Edges[id]
	if !ok {
		return storage.ErrNotFound
	}
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}
	for k, v := range merge {
		e.Properties[k] = v
	}
	f.Edges[id] = e
	return nil
}

func (f *FakeMutator) SetEdgeSector(_ context.Context, id uuid.UUID, sector model.Sector, stamp model.Reclassification) error {
	e, ok := f.Edges[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.MemorySector = sector
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}
	e.Properties["last_reclassification"] = stamp
	f.Edges[id] = e
	return nil
}

func (f *FakeMutator) MarkSuperseded(_ context.Context, id uuid.UUID, by string, at time.Time) (bool, error) {
	e, ok := f.Edges[id]
	if !ok {
		return false, nil
	}
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}
	e.Properties["superseded"] = true
	e.Properties["superseded_by"] = by
	e.Properties["superseded_at"] = at.UTC()
	f.Edges[id] = e
	return true, nil
}

func (f *FakeMutator) ClearSuperseded(_ context.Context, id uuid.UUID) error {
	e, ok := f.Edges[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(e.Properties, "superseded")
	delete(e.Properties, "superseded_by")
	delete(e.Properties, "superseded_at")
	f.Edges[id] = e
	return nil
}

func (f *FakeMutator) OrphanResolutionEdges(_ context.Context, edgeIDs []uuid.UUID) error {
	for _, id := range edgeIDs {
		e, ok := f.Edges[id]
		if !ok {
			continue
		}
		if e.Properties == nil {
			e.Properties = map[string]any{}
		}
		e.Properties["orphaned"] = true
		f.Edges[id] = e
	}
	return nil
}

func (f *FakeMutator) GetReview(_ context.Context, id uuid.UUID) (model.NuanceReview, error) {
	r, ok := f.Reviews[id]
	if !ok {
		return model.NuanceReview{}, storage.ErrNotFound
	}
	return r, nil
}

func (f *FakeMutator) SetReviewStatus(_ context.Context, id uuid.UUID, status model.ReviewStatus, reclassifiedTo *model.DissonanceType, reason *string, at time.Time) error {
	r, ok := f.Reviews[id]
	if !ok {
		return storage.ErrNotFound
	}
	r.Status = status
	r.ReclassifiedTo = reclassifiedTo
	r.Reason = reason
	reviewedAt := at.UTC()
	r.ReviewedAt = &reviewedAt
	f.Reviews[id] = r
	return nil
}

func (f *FakeMutator) GetInsight(_ context.Context, id uuid.UUID) (model.Insight, error) {
	i, ok := f.Insights[id]
	if !ok {
		return model.Insight{}, storage.ErrNotFound
	}
	return i, nil
}

func (f *FakeMutator) UpdateInsight(_ context.Context, id uuid.UUID, content *string, metadata map[string]any) (model.Insight, error) {
	i, ok := f.Insights[id]
	if !ok || i.IsDeleted {
		return model.Insight{}, storage.ErrNotFound
	}
	if content != nil {
		i.Content = *content
	}
	if len(metadata) > 0 {
		if i.Metadata == nil {
			i.Metadata = map[string]any{}
		}
		for k, v := range metadata {
			i.Metadata[k] = v
		}
	}
	f.Insights[id] = i
	return i, nil
}

func (f *FakeMutator) SoftDeleteInsight(_ context.Context, id uuid.UUID, actor, reason string, at time.Time) error {
	i, ok := f.Insights[id]
	if !ok || i.IsDeleted {
		return storage.ErrNotFound
	}
	i.IsDeleted = true
	deletedAt := at.UTC()
	i.DeletedAt = &deletedAt
	i.DeletedBy = &actor
	i.DeletedReason = &reason
	f.Insights[id] = i
	return nil
}

func (f *FakeMutator) InsertAudit(_ context.Context, entry model.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	f.Audit = append(f.Audit, entry)
	return nil
}
