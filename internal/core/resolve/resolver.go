// Package resolve answers read queries over the graph: part lookup,
// replacement chains and parts by specification.
package resolve

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/graph"
	"github.com/agenthands/partgraph/internal/metrics"
)

const (
	MinDepth     = 1
	MaxDepth     = 5
	DefaultDepth = MaxDepth
)

type Resolver struct {
	Store  graph.Store
	Logger *zap.Logger
	// Timeout bounds queries whose context carries no deadline. Zero means
	// no bound.
	Timeout time.Duration
}

func New(store graph.Store, logger *zap.Logger, timeout time.Duration) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{Store: store, Logger: logger, Timeout: timeout}
}

func (r *Resolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || r.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.Timeout)
}

// observe records the query latency under its outcome code.
func (r *Resolver) observe(query string, start time.Time, err error) {
	code := "OK"
	if err != nil {
		code = string(apperr.CodeOf(err))
	}
	metrics.QueryDuration.WithLabelValues(query, code).Observe(time.Since(start).Seconds())
	if err != nil && apperr.CodeOf(err) != apperr.CodeNotFound && apperr.CodeOf(err) != apperr.CodeValidation {
		r.Logger.Warn("query failed", zap.String("query", query), zap.String("code", code), zap.Error(err))
	}
}

// timeout turns a failure caused by an expired context into TIMEOUT, so
// a deadline never surfaces as a store error or a partial answer.
func timeout(ctx context.Context, err error, op string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apperr.FromContext(ctxErr, op)
	}
	return err
}

func replacementInfo(n model.Node, e model.Edge, degree int) model.ReplacementInfo {
	return model.ReplacementInfo{
		PartID:            n.ID,
		Name:              n.Name,
		OEM:               n.IsOEM(),
		Confidence:        e.Confidence,
		Degree:            degree,
		IsTribalKnowledge: e.IsTribalKnowledge,
		Notes:             e.Context,
		SourceDocumentID:  e.SourceDocumentID,
	}
}

// sortByConfidence orders entries by confidence, highest first, then by
// part id.
func sortByConfidence(entries []model.ReplacementInfo) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Confidence != entries[j].Confidence {
			return entries[i].Confidence > entries[j].Confidence
		}
		return entries[i].PartID < entries[j].PartID
	})
}
