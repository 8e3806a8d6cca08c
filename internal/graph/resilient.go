package graph

import (
	"context"

	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/resilience"
)

// ResilientStore runs every call of the wrapped Store through a retry and
// circuit breaker policy. Merges are idempotent, so writes retry as freely
// as reads.
type ResilientStore struct {
	Store  Store
	Policy *resilience.Policy
}

var _ Store = (*ResilientStore)(nil)

func NewResilientStore(store Store, policy *resilience.Policy) *ResilientStore {
	return &ResilientStore{Store: store, Policy: policy}
}

func (r *ResilientStore) EnsureSchema(ctx context.Context) error {
	return r.Policy.Do(ctx, "ensure_schema", r.Store.EnsureSchema)
}

func (r *ResilientStore) MergeNode(ctx context.Context, n model.Node) (model.Node, error) {
	var out model.Node
	err := r.Policy.Do(ctx, "merge_node", func(ctx context.Context) error {
		var err error
		out, err = r.Store.MergeNode(ctx, n)
		return err
	})
	return out, err
}

func (r *ResilientStore) MergeRelationship(ctx context.Context, e model.Edge) (model.Edge, error) {
	var out model.Edge
	err := r.Policy.Do(ctx, "merge_relationship", func(ctx context.Context) error {
		var err error
		out, err = r.Store.MergeRelationship(ctx, e)
		return err
	})
	return out, err
}

func (r *ResilientStore) GetNode(ctx context.Context, ref model.NodeRef) (model.Node, error) {
	var out model.Node
	err := r.Policy.Do(ctx, "get_node", func(ctx context.Context) error {
		var err error
		out, err = r.Store.GetNode(ctx, ref)
		return err
	})
	return out, err
}

func (r *ResilientStore) Outgoing(ctx context.Context, ref model.NodeRef, types ...model.RelType) ([]model.Edge, error) {
	var out []model.Edge
	err := r.Policy.Do(ctx, "outgoing", func(ctx context.Context) error {
		var err error
		out, err = r.Store.Outgoing(ctx, ref, types...)
		return err
	})
	return out, err
}

func (r *ResilientStore) Incoming(ctx context.Context, ref model.NodeRef, types ...model.RelType) ([]model.Edge, error) {
	var out []model.Edge
	err := r.Policy.Do(ctx, "incoming", func(ctx context.Context) error {
		var err error
		out, err = r.Store.Incoming(ctx, ref, types...)
		return err
	})
	return out, err
}

func (r *ResilientStore) PartsBySpec(ctx context.Context, specType, value string) ([]model.Node, error) {
	var out []model.Node
	err := r.Policy.Do(ctx, "parts_by_spec", func(ctx context.Context) error {
		var err error
		out, err = r.Store.PartsBySpec(ctx, specType, value)
		return err
	})
	return out, err
}

func (r *ResilientStore) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := r.Policy.Do(ctx, "stats", func(ctx context.Context) error {
		var err error
		out, err = r.Store.Stats(ctx)
		return err
	})
	return out, err
}

func (r *ResilientStore) Clear(ctx context.Context) error {
	return r.Policy.Do(ctx, "clear", r.Store.Clear)
}

func (r *ResilientStore) Close() error {
	return r.Store.Close()
}
