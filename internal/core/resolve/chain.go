package resolve

import (
	"context"
	"time"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/core/partid"
)

// ResolveChain walks REPLACES edges from identifier up to maxDepth hops.
//
// The walk is breadth-first over (part, tribal) states, each expanded once,
// so its cost is linear in the reachable graph however cyclic it is. A part
// reachable at several depths is reported once, at its minimum degree, with
// the highest confidence among the edges that reach it at that degree. A
// part counts as tribal knowledge when some walk of at most maxDepth hops
// from the root reaches it through a tribal edge. The root is never
// revisited.
//
// An unknown identifier is NOT_FOUND; a known part without replacements
// yields an empty chain.
func (r *Resolver) ResolveChain(ctx context.Context, identifier string, maxDepth int) (chain *model.ReplacementChain, err error) {
	start := time.Now()
	defer func() { r.observe("resolve_chain", start, err) }()

	if maxDepth < MinDepth || maxDepth > MaxDepth {
		return nil, apperr.Validation("max_depth must be between %d and %d, got %d", MinDepth, MaxDepth, maxDepth)
	}
	key, err := partid.Validate(identifier)
	if err != nil {
		return nil, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	root, err := r.Store.GetNode(ctx, model.NodeRef{Label: model.LabelPart, Key: key})
	if err != nil {
		return nil, timeout(ctx, err, "resolve_chain")
	}

	w := &walker{
		ctx:      ctx,
		r:        r,
		maxDepth: maxDepth,
		adjacent: map[string][]model.Edge{},
		best:     map[string]*chainEntry{},
		tribal:   map[string]bool{},
	}
	if err := w.walk(root); err != nil {
		return nil, timeout(ctx, err, "resolve_chain")
	}
	return w.chain(root), nil
}

type chainEntry struct {
	node   model.Node
	edge   model.Edge
	degree int
}

// visit is one BFS state: a part and whether the walk to it used a tribal
// edge.
type visit struct {
	ref    model.NodeRef
	tribal bool
}

type walker struct {
	ctx      context.Context
	r        *Resolver
	maxDepth int

	adjacent map[string][]model.Edge
	best     map[string]*chainEntry
	tribal   map[string]bool
	order    []string
}

func (w *walker) replacements(ref model.NodeRef) ([]model.Edge, error) {
	if edges, ok := w.adjacent[ref.Key]; ok {
		return edges, nil
	}
	edges, err := w.r.Store.Outgoing(w.ctx, ref, model.RelReplaces)
	if err != nil {
		return nil, err
	}
	w.adjacent[ref.Key] = edges
	return edges, nil
}

func (w *walker) walk(root model.Node) error {
	rootKey := root.Key()
	expanded := map[visit]bool{}
	frontier := []visit{{ref: root.Ref()}}
	expanded[frontier[0]] = true

	for depth := 0; depth < w.maxDepth && len(frontier) > 0; depth++ {
		var next []visit
		for _, v := range frontier {
			if err := w.ctx.Err(); err != nil {
				return apperr.FromContext(err, "resolve_chain")
			}
			edges, err := w.replacements(v.ref)
			if err != nil {
				return err
			}
			for _, e := range edges {
				if e.Target.Label != model.LabelPart {
					continue
				}
				key := e.Target.Key()
				if key == rootKey {
					continue
				}
				tribal := v.tribal || e.IsTribalKnowledge
				if tribal {
					w.tribal[key] = true
				}
				w.record(key, e, depth+1)

				st := visit{ref: e.Target.Ref(), tribal: tribal}
				if !expanded[st] {
					expanded[st] = true
					next = append(next, st)
				}
			}
		}
		frontier = next
	}
	return nil
}

func (w *walker) record(key string, e model.Edge, degree int) {
	cur, seen := w.best[key]
	switch {
	case !seen:
		w.best[key] = &chainEntry{node: e.Target, edge: e, degree: degree}
		w.order = append(w.order, key)
	case degree < cur.degree, degree == cur.degree && e.Confidence > cur.edge.Confidence:
		cur.edge, cur.degree = e, degree
	}
}
func (w *walker) chain(root model.Node) *model.ReplacementChain {
	chain := &model.ReplacementChain{
		SourcePartID:         root.ID,
		ReplacementsByDegree: map[int][]model.ReplacementInfo{},
	}
	for _, key := range w.order {
		entry := w.best[key]
		info := replacementInfo(entry.node, entry.edge, entry.degree)
		chain.ReplacementsByDegree[entry.degree] = append(chain.ReplacementsByDegree[entry.degree], info)
		chain.TotalReplacements++
		if entry.degree > chain.MaxDegree {
			chain.MaxDegree = entry.degree
		}
		if w.tribal[key] {
			chain.TribalKnowledgeCount++
		}
	}
	for _, bucket := range chain.ReplacementsByDegree {
		sortByConfidence(bucket)
	}
	return chain
}
