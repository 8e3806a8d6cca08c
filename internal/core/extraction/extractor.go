package extraction

import (
	"fmt"
	"strings"
	"time"

	"github.com/agenthands/partgraph/internal/core/model"
)

// ExplicitConfidence is assigned to relationships read from structured
// payload fields.
const ExplicitConfidence = 1.0

type Extractor struct {
	Sources *SourceClassifier
	Now     func() time.Time
}

func NewExtractor(sources *SourceClassifier) *Extractor {
	if sources == nil {
		sources = NewSourceClassifier(nil)
	}
	return &Extractor{
		Sources: sources,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// Subject returns the part a record describes: its part_number field, on the
// payload root or under "data", else the identifier that was queried.
func Subject(rec model.RawEvidenceRecord) model.Endpoint {
	subject := model.PartEndpoint(rec.QueriedID)
	for _, obj := range sections(rec.Payload) {
		if pn := strings.TrimSpace(obj.GetString("part_number")); pn != "" {
			subject.ID = pn
			break
		}
	}
	for _, obj := range sections(rec.Payload) {
		if subject.Name == "" {
			subject.Name = firstString(obj, "name", "title")
		}
		if subject.OEM == nil {
			if v, ok := obj.Get("oem"); ok && v.Kind == model.KindBool {
				oem := v.Bool
				subject.OEM = &oem
			}
		}
	}
	return subject
}

// sections returns the objects that carry structured fields: the payload
// root and its nested "data" object.
func sections(payload model.Value) []model.Value {
	if payload.Kind != model.KindObject {
		return nil
	}
	out := []model.Value{payload}
	if data, ok := payload.Get("data"); ok && data.Kind == model.KindObject {
		out = append(out, data)
	}
	return out
}

// Explicit returns the relationships stated by structured fields of the
// matched record, all with confidence 1.0.
func (e *Extractor) Explicit(m model.MatchResult) []model.Relationship {
	rec := m.Record
	subject := Subject(rec)
	b := &builder{
		docID:  rec.DocumentID(),
		tribal: e.Sources.Kind(rec.Source, rec.SourceKind).IsCommunity(),
		source: rec.Source,
		now:    e.Now(),
	}

	for _, obj := range sections(rec.Payload) {
		for _, field := range []string{"replaced_by", "superseded_by", "replacements"} {
			for _, ref := range refs(obj, field) {
				b.add(model.RelReplaces, subject, ref.endpoint(model.EntityPartNumber), field)
			}
		}
		for _, field := range []string{"replaces", "supersedes"} {
			for _, ref := range refs(obj, field) {
				b.add(model.RelReplaces, ref.endpoint(model.EntityPartNumber), subject, field)
			}
		}
		for _, ref := range refs(obj, "cross_references") {
			target := ref.endpoint(model.EntityPartNumber)
			b.add(crossReferenceType(ref.kind), subject, target, "cross_references")
			if ref.manufacturer != "" {
				b.add(model.RelManufacturedBy, target, model.Endpoint{ID: ref.manufacturer, Type: model.EntityManufacturer}, "cross_references")
			}
		}
		for _, field := range []string{"compatible_equipment", "compatible_models"} {
			for _, ref := range refs(obj, field) {
				eq := ref.endpoint(model.EntityEquipmentModel)
				eq.EquipmentType = ref.kind
				b.add(model.RelCompatibleWith, subject, eq, field)
			}
		}
		for _, field := range []string{"adapters", "adapter_required"} {
			for _, ref := range refs(obj, field) {
				b.add(model.RelAdapterRequired, subject, ref.endpoint(model.EntityAdapter), field)
			}
		}
		for _, field := range []string{"specifications", "specs"} {
			for _, spec := range specs(obj, field) {
				b.add(model.RelHasSpec, subject, spec, field)
			}
		}
		if mfr := strings.TrimSpace(obj.GetString("manufacturer")); mfr != "" {
			b.add(model.RelManufacturedBy, subject, model.Endpoint{ID: mfr, Type: model.EntityManufacturer}, "manufacturer")
		}
	}
	return b.rels
}

type builder struct {
	docID  string
	tribal bool
	source string
	now    time.Time
	rels   []model.Relationship
}

func (b *builder) add(t model.RelType, src, dst model.Endpoint, field string) {
	if strings.TrimSpace(dst.ID) == "" || strings.TrimSpace(src.ID) == "" {
		return
	}
	b.rels = append(b.rels, model.Relationship{
		Type:              t,
		Source:            src,
		Target:            dst,
		Confidence:        ExplicitConfidence,
		Context:           fmt.Sprintf("%s field of %s record", field, b.source),
		IsTribalKnowledge: b.tribal,
		SourceDocumentID:  b.docID,
		CreatedAt:         b.now,
	})
}

func crossReferenceType(kind string) model.RelType {
	k := strings.ToLower(kind)
	switch {
	case strings.Contains(k, "adapter"):
		return model.RelAdapterRequired
	case strings.Contains(k, "compatib"):
		return model.RelCompatibleWith
	default:
		return model.RelEquivalentTo
	}
}

// ref is one identifier referenced by a structured field, either a bare
// string or an object such as {"part_number": "...", "manufacturer": "..."}.
type ref struct {
	id           string
	name         string
	manufacturer string
	kind         string
}

func (r ref) endpoint(t model.EntityType) model.Endpoint {
	return model.Endpoint{ID: r.id, Type: t, Name: r.name}
}

func refs(obj model.Value, field string) []ref {
	v, ok := obj.Get(field)
	if !ok {
		return nil
	}
	items := []model.Value{v}
	if v.Kind == model.KindArray {
		items = v.Items
	}

	var out []ref
	for _, item := range items {
		switch item.Kind {
		case model.KindString:
			if id := strings.TrimSpace(item.Str); id != "" {
				out = append(out, ref{id: id})
			}
		case model.KindObject:
			r := ref{
				id:           strings.TrimSpace(firstString(item, "part_number", "model", "id", "number")),
				name:         firstString(item, "name", "description"),
				manufacturer: strings.TrimSpace(firstString(item, "manufacturer", "brand")),
				kind:         firstString(item, "type", "relationship"),
			}
			if r.id != "" {
				out = append(out, r)
			}
		}
	}
	return out
}

// specs reads a specification field given either as an object
// ({"capacitance": "40+5 MFD"}), a list of {type, value} objects, or a list
// of free-text specs ("40+5 MFD"). Types given in {type, value} objects are
// kept verbatim; free text is left untyped for the populator to parse.
func specs(obj model.Value, field string) []model.Endpoint {
	v, ok := obj.Get(field)
	if !ok {
		return nil
	}
	var out []model.Endpoint
	add := func(specType, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		out = append(out, model.Endpoint{ID: value, Type: model.EntitySpecification, SpecType: strings.TrimSpace(specType)})
	}

	switch v.Kind {
	case model.KindObject:
		// The key names the quantity, the unit names the spec:
		// {"capacitance": "40+5 MFD"} is Spec(MFD, 40+5).
		for _, f := range v.Fields {
			text := scalarText(f.Value)
			if unit, value, ok := model.SplitUnit(text); ok {
				add(unit, value)
				continue
			}
			add(f.Key, text)
		}
	case model.KindArray:
		for _, item := range v.Items {
			switch item.Kind {
			case model.KindObject:
				add(item.GetString("type"), scalarText(mustGet(item, "value")))
			default:
				add("", scalarText(item))
			}
		}
	case model.KindString:
		add("", v.Str)
	}
	return out
}

func mustGet(v model.Value, key string) model.Value {
	m, _ := v.Get(key)
	return m
}

func scalarText(v model.Value) string {
	switch v.Kind {
	case model.KindString:
		return v.Str
	case model.KindNumber:
		return fmt.Sprintf("%g", v.Num)
	}
	return ""
}

func firstString(obj model.Value, keys ...string) string {
	for _, k := range keys {
		if s := obj.GetString(k); s != "" {
			return s
		}
	}
	return ""
}
