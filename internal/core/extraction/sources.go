package extraction

import (
	"strings"

	"github.com/agenthands/partgraph/internal/core/model"
)

var communityHints = []string{"forum", "community", "reddit", "talk", "discussion"}

// SourceClassifier decides whether evidence from a source is community text.
type SourceClassifier struct {
	community map[string]struct{}
}

// NewSourceClassifier treats the named sources, and any source whose name
// contains a forum-like hint, as community sources.
func NewSourceClassifier(communitySources []string) *SourceClassifier {
	c := &SourceClassifier{community: make(map[string]struct{}, len(communitySources))}
	for _, s := range communitySources {
		c.community[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	return c
}

// Kind returns declared when set, otherwise classifies by source name.
func (c *SourceClassifier) Kind(source string, declared model.SourceKind) model.SourceKind {
	if declared != "" {
		return declared
	}
	if c.IsCommunity(source) {
		return model.SourceCommunity
	}
	return model.SourceAuthoritative
}

func (c *SourceClassifier) IsCommunity(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return false
	}
	if _, ok := c.community[n]; ok {
		return true
	}
	for _, h := range communityHints {
		if strings.Contains(n, h) {
			return true
		}
	}
	return false
}
