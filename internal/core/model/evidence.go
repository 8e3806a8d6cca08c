package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceKind separates manufacturer/distributor data from forum or community
// text. Relationships derived from community text are tribal knowledge.
type SourceKind string

const (
	SourceAuthoritative SourceKind = "authoritative"
	SourceCommunity     SourceKind = "community"
)

func (k SourceKind) IsCommunity() bool {
	return k == SourceCommunity
}

var evidenceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("partgraph/evidence"))

// RawEvidenceRecord is one payload retrieved from one source for one queried
// identifier. Records are immutable once ingested.
type RawEvidenceRecord struct {
	ID         string     `json:"id,omitempty"`
	Source     string     `json:"source"`
	SourceKind SourceKind `json:"source_kind,omitempty"`
	Session    string     `json:"session,omitempty"`
	File       string     `json:"file,omitempty"`
	QueriedID  string     `json:"queried_id"`
	Payload    Value      `json:"payload"`
	IngestedAt time.Time  `json:"ingested_at"`
}

// DocumentID returns the record's id, deriving a stable one from its origin
// and payload when none was supplied. Replaying the same record yields the
// same id.
func (r RawEvidenceRecord) DocumentID() string {
	if r.ID != "" {
		return r.ID
	}
	payload, _ := r.Payload.MarshalJSON()
	name := strings.Join([]string{r.Source, r.Session, r.File, r.QueriedID, string(payload)}, "\x1f")
	return uuid.NewSHA1(evidenceNamespace, []byte(name)).String()
}

// MatchResult is a record that mentions the searched identifier, with the
// source/session/file it came from.
type MatchResult struct {
	Record       RawEvidenceRecord `json:"record"`
	Source       string            `json:"source"`
	Session      string            `json:"session,omitempty"`
	File         string            `json:"file,omitempty"`
	MatchedValue string            `json:"matched_value"`
}
