package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/driver"
)

// CypherStore is the Store over a Bolt server. Labels and relationship
// types are interpolated into queries only after validation against the
// closed model sets; everything else is a parameter.
type CypherStore struct {
	Driver driver.GraphDriver
	Now    func() time.Time
}

var _ Store = (*CypherStore)(nil)

func NewCypherStore(d driver.GraphDriver) *CypherStore {
	return &CypherStore{Driver: d, Now: time.Now}
}

func (s *CypherStore) EnsureSchema(ctx context.Context) error {
	return s.Driver.BuildIndices(ctx)
}

func (s *CypherStore) MergeNode(ctx context.Context, n model.Node) (model.Node, error) {
	if err := validateNode(n); err != nil {
		return model.Node{}, err
	}
	params := nodeParams("n", n)
	params["now"] = s.timestamp()

	res, err := s.Driver.ExecuteQuery(ctx, driver.MergeNodeQuery(string(n.Label)), params)
	if err != nil {
		return model.Node{}, err
	}
	if len(res.Records) == 0 {
		return model.Node{}, fmt.Errorf("merge of %s returned no rows", n.Ref())
	}
	return nodeFromRecord(res.Records[0], "props", n.Label)
}

func (s *CypherStore) MergeRelationship(ctx context.Context, e model.Edge) (model.Edge, error) {
	if err := validateEdge(e); err != nil {
		return model.Edge{}, err
	}
	params := nodeParams("src", e.Source)
	for k, v := range nodeParams("dst", e.Target) {
		params[k] = v
	}
	params["now"] = s.timestamp()
	params["confidence"] = e.Confidence
	params["context"] = e.Context
	params["tribal"] = e.IsTribalKnowledge
	params["doc"] = e.SourceDocumentID

	query := driver.MergeRelationshipQuery(string(e.Source.Label), string(e.Type), string(e.Target.Label))
	res, err := s.Driver.ExecuteQuery(ctx, query, params)
	if err != nil {
		return model.Edge{}, err
	}
	if len(res.Records) == 0 {
		return model.Edge{}, fmt.Errorf("merge of %s returned no rows", e.Key())
	}
	rec := res.Records[0]
	source, err := nodeFromRecord(rec, "source", e.Source.Label)
	if err != nil {
		return model.Edge{}, err
	}
	target, err := nodeFromRecord(rec, "target", e.Target.Label)
	if err != nil {
		return model.Edge{}, err
	}
	return edgeFromRecord(rec, e.Type, source, target), nil
}

func (s *CypherStore) GetNode(ctx context.Context, ref model.NodeRef) (model.Node, error) {
	if !ref.Label.Valid() {
		return model.Node{}, apperr.Validation("unknown node label %q", ref.Label)
	}
	res, err := s.Driver.ExecuteReadQuery(ctx, driver.GetNodeQuery(string(ref.Label)), map[string]interface{}{"key": ref.Key})
	if err != nil {
		return model.Node{}, err
	}
	if len(res.Records) == 0 {
		return model.Node{}, apperr.NotFound("%s %q not found", ref.Label, ref.Key)
	}
	return nodeFromRecord(res.Records[0], "props", ref.Label)
}

func (s *CypherStore) Outgoing(ctx context.Context, ref model.NodeRef, types ...model.RelType) ([]model.Edge, error) {
	return s.adjacent(ctx, ref, true, types)
}

func (s *CypherStore) Incoming(ctx context.Context, ref model.NodeRef, types ...model.RelType) ([]model.Edge, error) {
	return s.adjacent(ctx, ref, false, types)
}

func (s *CypherStore) adjacent(ctx context.Context, ref model.NodeRef, outgoing bool, types []model.RelType) ([]model.Edge, error) {
	if !ref.Label.Valid() {
		return nil, apperr.Validation("unknown node label %q", ref.Label)
	}
	names := make([]string, 0, len(model.RelTypes))
	for _, t := range filterTypes(types) {
		names = append(names, string(t))
	}

	query := driver.IncomingQuery(string(ref.Label))
	if outgoing {
		query = driver.OutgoingQuery(string(ref.Label))
	}
	res, err := s.Driver.ExecuteReadQuery(ctx, query, map[string]interface{}{"key": ref.Key, "types": names})
	if err != nil {
		return nil, err
	}

	edges := make([]model.Edge, 0, len(res.Records))
	for _, rec := range res.Records {
		rawType, _ := rec.Get("type")
		relType := model.RelType(asString(rawType))
		if !relType.Valid() {
			continue
		}

		sourceLabel, targetLabel := ref.Label, ref.Label
		if outgoing {
			targetLabel = labelFrom(rec, "target_labels")
		} else {
			sourceLabel = labelFrom(rec, "source_labels")
		}
		source, err := nodeFromRecord(rec, "source", sourceLabel)
		if err != nil {
			return nil, err
		}
		target, err := nodeFromRecord(rec, "target", targetLabel)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edgeFromRecord(rec, relType, source, target))
	}
	sortEdges(edges)
	return edges, nil
}

func (s *CypherStore) PartsBySpec(ctx context.Context, specType, value string) ([]model.Node, error) {
	spec := model.SpecNode(specType, value)
	res, err := s.Driver.ExecuteReadQuery(ctx, driver.PartsBySpecQuery, map[string]interface{}{"key": spec.Key()})
	if err != nil {
		return nil, err
	}
	parts := make([]model.Node, 0, len(res.Records))
	for _, rec := range res.Records {
		n, err := nodeFromRecord(rec, "props", model.LabelPart)
		if err != nil {
			return nil, err
		}
		parts = append(parts, n)
	}
	return parts, nil
}

func (s *CypherStore) Stats(ctx context.Context) (Stats, error) {
	stats := newStats()
	res, err := s.Driver.ExecuteReadQuery(ctx, driver.NodeCountsQuery, nil)
	if err != nil {
		return Stats{}, err
	}
	for _, rec := range res.Records {
		label, _ := rec.Get("label")
		count, _ := rec.Get("count")
		stats.addNodes(model.Label(asString(label)), asInt64(count))
	}

	res, err = s.Driver.ExecuteReadQuery(ctx, driver.EdgeCountsQuery, nil)
	if err != nil {
		return Stats{}, err
	}
	for _, rec := range res.Records {
		t, _ := rec.Get("type")
		count, _ := rec.Get("count")
		stats.addEdges(model.RelType(asString(t)), asInt64(count))
	}
	return stats, nil
}

func (s *CypherStore) Clear(ctx context.Context) error {
	_, err := s.Driver.ExecuteQuery(ctx, driver.ClearGraphQuery, nil)
	return err
}

func (s *CypherStore) Close() error {
	return s.Driver.Close(context.Background())
}

func (s *CypherStore) timestamp() string {
	return s.Now().UTC().Format(time.RFC3339Nano)
}

// nodeParams flattens n into $<p>_* parameters for the merge clauses.
// Spec nodes carry their normalized (type, value); other labels leave those
// properties unset.
func nodeParams(p string, n model.Node) map[string]interface{} {
	var specType, specValue interface{}
	id := n.ID
	if n.Label == model.LabelSpec {
		t, v := n.SpecIdentity()
		specType, specValue, id = t, v, v
	}
	var oem interface{}
	if n.OEM != nil {
		oem = *n.OEM
	}
	docs := n.SourceDocIDs
	if docs == nil {
		docs = []string{}
	}
	return map[string]interface{}{
		p + "_key":            n.Key(),
		p + "_id":             id,
		p + "_spec_type":      specType,
		p + "_spec_value":     specValue,
		p + "_name":           n.Name,
		p + "_oem":            oem,
		p + "_equipment_type": n.EquipmentType,
		p + "_docs":           docs,
	}
}

func nodeFromRecord(rec *neo4j.Record, key string, label model.Label) (model.Node, error) {
	raw, ok := rec.Get(key)
	if !ok {
		return model.Node{}, fmt.Errorf("record has no %q column", key)
	}
	props, ok := raw.(map[string]interface{})
	if !ok {
		return model.Node{}, fmt.Errorf("column %q is %T, not a property map", key, raw)
	}

	n := model.Node{
		Label:         label,
		ID:            asString(props["id"]),
		Name:          asString(props["name"]),
		EquipmentType: asString(props["equipment_type"]),
		CreatedAt:     asTime(props["created_at"]),
		UpdatedAt:     asTime(props["updated_at"]),
	}
	if label == model.LabelSpec {
		n.SpecType = asString(props["type"])
	}
	if oem, ok := props["oem"].(bool); ok {
		n.OEM = &oem
	}
	if docs, ok := props["source_doc_ids"].([]interface{}); ok {
		for _, d := range docs {
			n.AddSourceDoc(asString(d))
		}
	}
	return n, nil
}

func edgeFromRecord(rec *neo4j.Record, t model.RelType, source, target model.Node) model.Edge {
	e := model.Edge{Type: t, Source: source, Target: target}
	raw, _ := rec.Get("rel")
	props, _ := raw.(map[string]interface{})
	e.Confidence = asFloat64(props["confidence"])
	e.Context = asString(props["context"])
	e.IsTribalKnowledge, _ = props["is_tribal_knowledge"].(bool)
	e.SourceDocumentID = asString(props["source_doc_id"])
	e.CreatedAt = asTime(props["created_at"])
	e.UpdatedAt = asTime(props["updated_at"])
	return e
}

func labelFrom(rec *neo4j.Record, key string) model.Label {
	raw, _ := rec.Get(key)
	labels, _ := raw.([]interface{})
	for _, l := range labels {
		if label := model.Label(asString(l)); label.Valid() {
			return label
		}
	}
	return model.LabelPart
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func asFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func asTime(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed
		}
	}
	return time.Time{}
}
