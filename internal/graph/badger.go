package graph

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/model"
)

// Key layout:
//
//	0x01 label 0x00 key                      -> node JSON
//	0x02 type 0x00 srcID 0x00 dstID          -> edge JSON
//	0x04 srcID 0x00 edgeID                   -> outgoing index
//	0x05 dstID 0x00 edgeID                   -> incoming index
//	0x06 nodeID 0x00 docID                   -> first-seen sequence
//
// A node ID is "Label:key". Identities never contain 0x00; Validate rejects
// control characters. Provenance lives in its own keys so a node value stays
// the same size however many documents mention it.
const (
	prefixNode          = byte(0x01)
	prefixEdge          = byte(0x02)
	prefixOutgoingIndex = byte(0x04)
	prefixIncomingIndex = byte(0x05)
	prefixProvenance    = byte(0x06)
	sep                 = byte(0x00)
)

var ErrStoreClosed = errors.New("graph store is closed")

type BadgerOptions struct {
	DataDir    string
	InMemory   bool
	SyncWrites bool
	Logger     *zap.Logger
}

// BadgerStore is the embedded Store. Each merge runs in one Badger
// transaction; two transactions writing a key the other read conflict at
// commit and the loser fails with a write conflict (apperr.IsConflict), to be
// replayed by the caller. A merge that changes nothing about an existing
// node does not rewrite it, so edges onto a shared hub only contend when the
// hub itself changes.
type BadgerStore struct {
	db  *badger.DB
	Now func() time.Time

	lastSighting atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

var _ Store = (*BadgerStore)(nil)

func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(badgerLogger{opts.Logger.Named("badger").Sugar()})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2)
	if !opts.InMemory {
		// In-memory mode has no value log; values must stay in the LSM.
		badgerOpts = badgerOpts.WithValueThreshold(1024)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerStore{db: db, Now: time.Now}, nil
}

func NewBadgerStoreInMemory() (*BadgerStore, error) {
	return NewBadgerStore(BadgerOptions{InMemory: true})
}

func (b *BadgerStore) EnsureSchema(ctx context.Context) error {
	// Uniqueness is structural: a node key is its identity.
	return b.check(ctx)
}

func (b *BadgerStore) MergeNode(ctx context.Context, n model.Node) (model.Node, error) {
	if err := validateNode(n); err != nil {
		return model.Node{}, err
	}
	if err := b.check(ctx); err != nil {
		return model.Node{}, err
	}

	var merged model.Node
	err := b.db.Update(func(txn *badger.Txn) error {
		var err error
		merged, err = b.mergeNodeTxn(txn, n, b.Now().UTC())
		return err
	})
	if err != nil {
		return model.Node{}, classify(err, "merge_node")
	}
	return merged, nil
}

func (b *BadgerStore) MergeRelationship(ctx context.Context, e model.Edge) (model.Edge, error) {
	if err := validateEdge(e); err != nil {
		return model.Edge{}, err
	}
	if err := b.check(ctx); err != nil {
		return model.Edge{}, err
	}

	var merged model.Edge
	err := b.db.Update(func(txn *badger.Txn) error {
		now := b.Now().UTC()
		source, err := b.mergeNodeTxn(txn, e.Source, now)
		if err != nil {
			return err
		}
		target, err := b.mergeNodeTxn(txn, e.Target, now)
		if err != nil {
			return err
		}

		srcID, dstID := nodeID(source.Ref()), nodeID(target.Ref())
		id := edgeID(e.Type, srcID, dstID)
		stored := storedEdge{
			Type:              e.Type,
			Source:            srcID,
			Target:            dstID,
			Confidence:        e.Confidence,
			Context:           e.Context,
			IsTribalKnowledge: e.IsTribalKnowledge,
			SourceDocumentID:  e.SourceDocumentID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		var existing storedEdge
		found, err := getJSON(txn, edgeKey(id), &existing)
		if err != nil {
			return err
		}
		if found {
			stored.CreatedAt = existing.CreatedAt
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err := txn.Set(edgeKey(id), data); err != nil {
			return err
		}
		if !found {
			if err := txn.Set(indexKey(prefixOutgoingIndex, srcID, id), nil); err != nil {
				return err
			}
			if err := txn.Set(indexKey(prefixIncomingIndex, dstID, id), nil); err != nil {
				return err
			}
		}
		merged = stored.edge(source, target)
		return nil
	})
	if err != nil {
		return model.Edge{}, classify(err, "merge_relationship")
	}
	return merged, nil
}

func (b *BadgerStore) GetNode(ctx context.Context, ref model.NodeRef) (model.Node, error) {
	if err := b.check(ctx); err != nil {
		return model.Node{}, err
	}
	var n model.Node
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		n, found, err = loadNode(txn, ref)
		return err
	})
	if err != nil {
		return model.Node{}, classify(err, "get_node")
	}
	if !found {
		return model.Node{}, apperr.NotFound("%s %q not found", ref.Label, ref.Key)
	}
	return n, nil
}

func (b *BadgerStore) Outgoing(ctx context.Context, ref model.NodeRef, types ...model.RelType) ([]model.Edge, error) {
	return b.adjacent(ctx, prefixOutgoingIndex, ref, types)
}

func (b *BadgerStore) Incoming(ctx context.Context, ref model.NodeRef, types ...model.RelType) ([]model.Edge, error) {
	return b.adjacent(ctx, prefixIncomingIndex, ref, types)
}

func (b *BadgerStore) adjacent(ctx context.Context, prefix byte, ref model.NodeRef, types []model.RelType) ([]model.Edge, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	types = filterTypes(types)

	var edges []model.Edge
	err := b.db.View(func(txn *badger.Txn) error {
		nodes := map[string]model.Node{}
		load := func(id string) (model.Node, error) {
			if n, ok := nodes[id]; ok {
				return n, nil
			}
			ref, err := parseNodeID(id)
			if err != nil {
				return model.Node{}, err
			}
			n, found, err := loadNode(txn, ref)
			if err != nil {
				return model.Node{}, err
			}
			if !found {
				return model.Node{}, fmt.Errorf("dangling edge endpoint %s", id)
			}
			nodes[id] = n
			return n, nil
		}

		scan := indexPrefix(prefix, nodeID(ref))
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(scan); it.ValidForPrefix(scan); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := string(it.Item().Key()[len(scan):])
			relType := model.RelType(id[:strings.IndexByte(id, sep)])
			if !hasType(types, relType) {
				continue
			}

			var se storedEdge
			found, err := getJSON(txn, edgeKey(id), &se)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			source, err := load(se.Source)
			if err != nil {
				return err
			}
			target, err := load(se.Target)
			if err != nil {
				return err
			}
			edges = append(edges, se.edge(source, target))
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, "adjacent")
	}
	return edges, nil
}

func (b *BadgerStore) PartsBySpec(ctx context.Context, specType, value string) ([]model.Node, error) {
	spec := model.SpecNode(specType, value)
	edges, err := b.Incoming(ctx, spec.Ref(), model.RelHasSpec)
	if err != nil {
		return nil, err
	}
	var parts []model.Node
	for _, e := range edges {
		if e.Source.Label == model.LabelPart {
			parts = append(parts, e.Source)
		}
	}
	return parts, nil
}

func (b *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	if err := b.check(ctx); err != nil {
		return Stats{}, err
	}
	stats := newStats()
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for _, prefix := range []byte{prefixNode, prefixEdge} {
			for it.Seek([]byte{prefix}); it.ValidForPrefix([]byte{prefix}); it.Next() {
				key := it.Item().Key()[1:]
				head := string(key[:bytes.IndexByte(key, sep)])
				if prefix == prefixNode {
					stats.addNodes(model.Label(head), 1)
				} else {
					stats.addEdges(model.RelType(head), 1)
				}
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, classify(err, "stats")
	}
	return stats, nil
}

func (b *BadgerStore) Clear(ctx context.Context) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	if err := b.db.DropAll(); err != nil {
		return classify(err, "clear")
	}
	return nil
}

func (b *BadgerStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

func (b *BadgerStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperr.FromContext(err, "graph")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return apperr.Unavailable(ErrStoreClosed, "graph")
	}
	return nil
}

// mergeNodeTxn reads the node key inside txn and writes it back only when
// the merge creates the node or changes one of its properties. A concurrent
// creator of the same node conflicts at commit. Document ids are recorded as
// provenance keys, written once per (node, document).
func (b *BadgerStore) mergeNodeTxn(txn *badger.Txn, n model.Node, now time.Time) (model.Node, error) {
	ref := n.Ref()
	key := nodeKey(ref)
	var stored model.Node
	found, err := getJSON(txn, key, &stored)
	if err != nil {
		return model.Node{}, err
	}

	incoming := n
	incoming.SourceDocIDs = nil
	incoming.UpdatedAt = now
	changed := !found
	if found {
		before := stored
		stored.MergeFrom(incoming)
		if sameProperties(before, stored) {
			stored.UpdatedAt = before.UpdatedAt
		} else {
			changed = true
		}
	} else {
		stored = model.Node{
			Label:     n.Label,
			ID:        strings.TrimSpace(n.ID),
			SpecType:  n.SpecType,
			CreatedAt: now,
		}
		if n.Label == model.LabelSpec {
			stored.SpecType, stored.ID = n.SpecIdentity()
		}
		stored.MergeFrom(incoming)
	}
	stored.SourceDocIDs = nil

	if changed {
		data, err := json.Marshal(stored)
		if err != nil {
			return model.Node{}, err
		}
		if err := txn.Set(key, data); err != nil {
			return model.Node{}, err
		}
	}

	id := nodeID(ref)
	for _, doc := range n.SourceDocIDs {
		if doc == "" {
			continue
		}
		pk := provenanceKey(id, doc)
		_, err := txn.Get(pk)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return model.Node{}, err
		}
		var seq [8]byte
		binary.BigEndian.PutUint64(seq[:], b.sighting(now))
		if err := txn.Set(pk, seq[:]); err != nil {
			return model.Node{}, err
		}
	}

	stored.SourceDocIDs, err = provenance(txn, id)
	if err != nil {
		return model.Node{}, err
	}
	return stored, nil
}

// sighting returns a strictly increasing provenance sequence that follows
// the clock where it can.
func (b *BadgerStore) sighting(now time.Time) uint64 {
	for {
		last := b.lastSighting.Load()
		next := uint64(now.UnixNano())
		if next <= last {
			next = last + 1
		}
		if b.lastSighting.CompareAndSwap(last, next) {
			return next
		}
	}
}

func sameProperties(a, b model.Node) bool {
	if a.Name != b.Name || a.EquipmentType != b.EquipmentType {
		return false
	}
	if (a.OEM == nil) != (b.OEM == nil) {
		return false
	}
	return a.OEM == nil || *a.OEM == *b.OEM
}

// loadNode reads a node and its provenance.
func loadNode(txn *badger.Txn, ref model.NodeRef) (model.Node, bool, error) {
	var n model.Node
	found, err := getJSON(txn, nodeKey(ref), &n)
	if err != nil || !found {
		return model.Node{}, found, err
	}
	n.SourceDocIDs, err = provenance(txn, nodeID(ref))
	if err != nil {
		return model.Node{}, false, err
	}
	return n, true, nil
}

// provenance lists the documents that mentioned a node, oldest first.
func provenance(txn *badger.Txn, id string) ([]string, error) {
	type sighting struct {
		seq uint64
		doc string
	}
	var seen []sighting

	scan := indexPrefix(prefixProvenance, id)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: scan, PrefetchValues: true, PrefetchSize: 100})
	defer it.Close()
	for it.Seek(scan); it.ValidForPrefix(scan); it.Next() {
		item := it.Item()
		doc := string(item.Key()[len(scan):])
		var seq uint64
		err := item.Value(func(val []byte) error {
			if len(val) == 8 {
				seq = binary.BigEndian.Uint64(val)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		seen = append(seen, sighting{seq: seq, doc: doc})
	}
	if len(seen) == 0 {
		return nil, nil
	}

	sort.Slice(seen, func(i, j int) bool {
		if seen[i].seq != seen[j].seq {
			return seen[i].seq < seen[j].seq
		}
		return seen[i].doc < seen[j].doc
	})
	docs := make([]string, len(seen))
	for i, s := range seen {
		docs[i] = s.doc
	}
	return docs, nil
}

type storedEdge struct {
	Type              model.RelType `json:"type"`
	Source            string        `json:"source"`
	Target            string        `json:"target"`
	Confidence        float64       `json:"confidence"`
	Context           string        `json:"context,omitempty"`
	IsTribalKnowledge bool          `json:"is_tribal_knowledge"`
	SourceDocumentID  string        `json:"source_doc_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func (se storedEdge) edge(source, target model.Node) model.Edge {
	return model.Edge{
		Type:              se.Type,
		Source:            source,
		Target:            target,
		Confidence:        se.Confidence,
		Context:           se.Context,
		IsTribalKnowledge: se.IsTribalKnowledge,
		SourceDocumentID:  se.SourceDocumentID,
		CreatedAt:         se.CreatedAt,
		UpdatedAt:         se.UpdatedAt,
	}
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
	if err != nil {
		return false, fmt.Errorf("decoding %q: %w", key, err)
	}
	return true, nil
}

func nodeID(ref model.NodeRef) string {
	return ref.String()
}

func parseNodeID(id string) (model.NodeRef, error) {
	i := strings.IndexByte(id, ':')
	if i <= 0 {
		return model.NodeRef{}, fmt.Errorf("malformed node id %q", id)
	}
	return model.NodeRef{Label: model.Label(id[:i]), Key: id[i+1:]}, nil
}

func nodeKey(ref model.NodeRef) []byte {
	key := make([]byte, 0, 2+len(ref.Label)+len(ref.Key))
	key = append(key, prefixNode)
	key = append(key, ref.Label...)
	key = append(key, sep)
	key = append(key, ref.Key...)
	return key
}

func edgeID(t model.RelType, srcID, dstID string) string {
	return string(t) + string(sep) + srcID + string(sep) + dstID
}

func edgeKey(id string) []byte {
	return append([]byte{prefixEdge}, id...)
}

func indexPrefix(prefix byte, id string) []byte {
	key := make([]byte, 0, 2+len(id))
	key = append(key, prefix)
	key = append(key, id...)
	key = append(key, sep)
	return key
}

func indexKey(prefix byte, id, edge string) []byte {
	return append(indexPrefix(prefix, id), edge...)
}

func provenanceKey(id, doc string) []byte {
	return append(indexPrefix(prefixProvenance, id), doc...)
}

func classify(err error, op string) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.FromContext(err, op)
	case errors.Is(err, badger.ErrConflict):
		return apperr.Conflict(err, op)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.s.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }
