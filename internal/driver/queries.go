package driver

import (
	"fmt"
	"strings"
)

// Every node carries a "key" property holding its label-scoped identity;
// uniqueness is enforced on it per label.
var schemaLabels = []string{"Part", "Spec", "Equipment", "Manufacturer"}

func SchemaQueries(dialect Dialect) []string {
	var queries []string
	for _, label := range schemaLabels {
		name := strings.ToLower(label) + "_key"
		switch dialect {
		case DialectMemgraph:
			queries = append(queries,
				fmt.Sprintf("CREATE CONSTRAINT ON (n:%s) ASSERT n.key IS UNIQUE;", label),
				fmt.Sprintf("CREATE INDEX ON :%s(key);", label))
		default:
			queries = append(queries,
				fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.key IS UNIQUE", name, label))
		}
	}
	if dialect == DialectMemgraph {
		queries = append(queries, "CREATE INDEX ON :Spec(type);")
	} else {
		queries = append(queries, "CREATE INDEX spec_type_value IF NOT EXISTS FOR (n:Spec) ON (n.type, n.value)")
	}
	return queries
}

// mergeNodeClause merges variable v of the given label on $<p>_key and
// overlays the non-empty incoming properties. The trailing SET writes the
// node, which takes its write lock for the rest of the transaction.
func mergeNodeClause(v, label, p string) string {
	return fmt.Sprintf(`MERGE (%[1]s:%[2]s {key: $%[3]s_key})
ON CREATE SET %[1]s.id = $%[3]s_id,
	%[1]s.type = $%[3]s_spec_type,
	%[1]s.value = $%[3]s_spec_value,
	%[1]s.created_at = $now,
	%[1]s.source_doc_ids = []
SET %[1]s.updated_at = $now,
	%[1]s.name = CASE WHEN $%[3]s_name = '' THEN %[1]s.name ELSE $%[3]s_name END,
	%[1]s.oem = coalesce($%[3]s_oem, %[1]s.oem),
	%[1]s.equipment_type = CASE WHEN $%[3]s_equipment_type = '' THEN %[1]s.equipment_type ELSE $%[3]s_equipment_type END,
	%[1]s.source_doc_ids = coalesce(%[1]s.source_doc_ids, []) + [d IN $%[3]s_docs WHERE NOT d IN coalesce(%[1]s.source_doc_ids, [])]
`, v, label, p)
}

func MergeNodeQuery(label string) string {
	return mergeNodeClause("n", label, "n") + "RETURN properties(n) AS props"
}

// MergeRelationshipQuery upserts both endpoints and the edge in one
// statement. The source is merged and written first so concurrent merges of
// the same edge serialize on its lock before the relationship MERGE.
func MergeRelationshipQuery(sourceLabel, relType, targetLabel string) string {
	return mergeNodeClause("s", sourceLabel, "src") +
		mergeNodeClause("t", targetLabel, "dst") +
		fmt.Sprintf(`MERGE (s)-[r:%s]->(t)
ON CREATE SET r.created_at = $now
SET r.confidence = $confidence,
	r.context = $context,
	r.is_tribal_knowledge = $tribal,
	r.source_doc_id = $doc,
	r.updated_at = $now
RETURN properties(s) AS source, properties(t) AS target, properties(r) AS rel`, relType)
}

func GetNodeQuery(label string) string {
	return fmt.Sprintf(`MATCH (n:%s {key: $key}) RETURN properties(n) AS props`, label)
}

func OutgoingQuery(label string) string {
	return fmt.Sprintf(`MATCH (s:%s {key: $key})-[r]->(t)
WHERE type(r) IN $types
RETURN type(r) AS type, properties(s) AS source, labels(t) AS target_labels, properties(t) AS target, properties(r) AS rel`, label)
}

func IncomingQuery(label string) string {
	return fmt.Sprintf(`MATCH (s)-[r]->(t:%s {key: $key})
WHERE type(r) IN $types
RETURN type(r) AS type, labels(s) AS source_labels, properties(s) AS source, properties(t) AS target, properties(r) AS rel`, label)
}

const (
	PartsBySpecQuery = `
		MATCH (p:Part)-[:HAS_SPEC]->(s:Spec {key: $key})
		RETURN properties(p) AS props
	`

	NodeCountsQuery = `
		MATCH (n)
		RETURN labels(n)[0] AS label, count(n) AS count
	`

	EdgeCountsQuery = `
		MATCH ()-[r]->()
		RETURN type(r) AS type, count(r) AS count
	`

	ClearGraphQuery = `
		MATCH (n)
		DETACH DELETE n
	`
)
