// Package rga implements a Replicated Growable Array, a sequence CRDT
// used to host collaboratively edited document values. Concurrent
// inserts and deletes converge to the same materialized text regardless
// of delivery order (convergence), never reorder a causally-later
// insert ahead of the element it was inserted after (intention
// preservation), and re-applying the same operation is a no-op
// (idempotence).
package rga

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ID uniquely identifies a character inserted into a Doc. Counter is
// per-actor and monotonically increasing, so (Actor, Counter) pairs are
// globally unique without coordination.
type ID struct {
	Actor   string
	Counter uint64
}

// Less orders IDs for RGA's tie-break rule: when two elements share an
// origin, the one with the larger ID sorts first, so every replica
// inserts concurrent siblings in the same order.
func (a ID) Less(b ID) bool {
	if a.Counter != b.Counter {
		return a.Counter < b.Counter
	}
	return a.Actor < b.Actor
}

func (a ID) String() string { return fmt.Sprintf("%s:%d", a.Actor, a.Counter) }

var rootID = ID{}

// OpKind discriminates the two mutation kinds an RGA supports.
type OpKind uint8

const (
	OpInsert OpKind = iota
	OpDelete
)

// Op is a single CRDT operation. For OpInsert, ID is the new element's
// identity, After is the ID of the element it was inserted immediately
// after (rootID for "at the start"), and Value is the inserted rune.
// For OpDelete, ID names the element being tombstoned.
type Op struct {
	Kind  OpKind
	ID    ID
	After ID
	Value rune
}

type element struct {
	id      ID
	after   ID
	value   rune
	deleted bool
}

// Doc is a single replica's view of a replicated character sequence.
type Doc struct {
	mu      sync.Mutex
	actor   string
	counter uint64
	seq     []element
	index   map[ID]int // id -> position in seq
}

// NewDoc creates an empty document owned by actor for the purpose of
// assigning new IDs. actor must be unique per writer.
func NewDoc(actor string) *Doc {
	return &Doc{actor: actor, index: make(map[ID]int)}
}

// NewDocFromText seeds a document with initial content, as if actor had
// inserted it all at doc creation time. Used when materializing a
// Store's DocumentValue into CRDT state for the first time.
func NewDocFromText(actor, text string) *Doc {
	d := NewDoc(actor)
	after := rootID
	for _, r := range text {
		op := d.localInsertAfter(after, r)
		after = op.ID
	}
	return d
}

// Text materializes the current visible sequence, skipping tombstones.
func (d *Doc) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b strings.Builder
	for _, e := range d.seq {
		if !e.deleted {
			b.WriteRune(e.value)
		}
	}
	return b.String()
}

// visiblePositions returns, for each visible element, its index into
// seq, in sequence order.
func (d *Doc) visiblePositions() []int {
	var vis []int
	for i, e := range d.seq {
		if !e.deleted {
			vis = append(vis, i)
		}
	}
	return vis
}

func (d *Doc) nextID() ID {
	d.counter++
	return ID{Actor: d.actor, Counter: d.counter}
}

// localInsertAfter inserts value immediately after the element with id
// `after` (rootID meaning the very start) and returns the resulting op.
// Caller must hold d.mu.
func (d *Doc) localInsertAfter(after ID, value rune) Op {
	id := d.nextID()
	d.integrateInsert(id, after, value)
	return Op{Kind: OpInsert, ID: id, After: after, Value: value}
}

// LocalInsert inserts value so that it becomes the rune at visible
// position pos (0 means "before everything currently visible").
func (d *Doc) LocalInsert(pos int, value rune) Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	vis := d.visiblePositions()
	after := rootID
	if pos > 0 && pos <= len(vis) {
		after = d.seq[vis[pos-1]].id
	} else if pos > len(vis) {
		if len(vis) > 0 {
			after = d.seq[vis[len(vis)-1]].id
		}
	}
	return d.localInsertAfter(after, value)
}

// LocalDelete tombstones the element currently at visible position pos.
// Returns false if pos is out of range.
func (d *Doc) LocalDelete(pos int) (Op, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	vis := d.visiblePositions()
	if pos < 0 || pos >= len(vis) {
		return Op{}, false
	}
	i := vis[pos]
	id := d.seq[i].id
	d.seq[i].deleted = true
	return Op{Kind: OpDelete, ID: id}, true
}

// Apply merges a remote operation into the document. It is idempotent:
// applying the same Op twice leaves the document unchanged after the
// first application.
func (d *Doc) Apply(op Op) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch op.Kind {
	case OpInsert:
		if _, exists := d.index[op.ID]; exists {
			return nil
		}
		d.integrateInsert(op.ID, op.After, op.Value)
		if op.ID.Counter > d.counter && op.ID.Actor == d.actor {
			d.counter = op.ID.Counter
		}
		return nil
	case OpDelete:
		i, ok := d.index[op.ID]
		if !ok {
			// Delete arrived before its insert; record a pending
			// tombstone is out of scope for a single in-memory replica
			// within one process lifetime, since ops are delivered
			// causally-ordered per key by internal/authority.
			return fmt.Errorf("rga: delete for unknown id %s", op.ID)
		}
		d.seq[i].deleted = true
		return nil
	default:
		return fmt.Errorf("rga: unknown op kind %d", op.Kind)
	}
}

// integrateInsert places a new element immediately after `after`,
// skipping past any existing elements that were also inserted after the
// same anchor and whose ID sorts ahead of id (RGA's standard tie-break),
// so concurrent inserts at the same position converge across replicas.
// Caller must hold d.mu.
func (d *Doc) integrateInsert(id, after ID, value rune) {
	insertAt := 0
	if after != rootID {
		afterPos, ok := d.index[after]
		if !ok {
			// Anchor not seen yet; append defensively. In this system
			// ops are delivered in causal order per document, so this
			// should not happen in practice.
			afterPos = len(d.seq) - 1
		}
		insertAt = afterPos + 1
	}
	for insertAt < len(d.seq) && d.seq[insertAt].after == after && id.Less(d.seq[insertAt].id) {
		insertAt++
	}
	d.seq = append(d.seq, element{})
	copy(d.seq[insertAt+1:], d.seq[insertAt:])
	d.seq[insertAt] = element{id: id, after: after, value: value}
	for i := insertAt; i < len(d.seq); i++ {
		d.index[d.seq[i].id] = i
	}
}

// DiffToOps computes the minimal sequence of local insert/delete
// operations that turns doc's current materialization into newText,
// applies them to doc, and returns the ops in application order. This
// is how a locally edited document value is turned into wire ops
// without requiring callers to track CRDT state themselves.
func DiffToOps(doc *Doc, newText string) []Op {
	old := []rune(doc.Text())
	next := []rune(newText)

	lcs := runeLCS(old, next)

	var ops []Op
	oi, ni := 0, 0
	pos := 0 // visible position cursor into the evolving document
	for _, pair := range lcs {
		for oi < pair[0] {
			op, ok := doc.LocalDelete(pos)
			if ok {
				ops = append(ops, op)
			}
			oi++
		}
		for ni < pair[1] {
			op := doc.LocalInsert(pos, next[ni])
			ops = append(ops, op)
			pos++
			ni++
		}
		pos++ // skip over the matched, unchanged rune
		oi++
		ni++
	}
	for oi < len(old) {
		op, ok := doc.LocalDelete(pos)
		if ok {
			ops = append(ops, op)
		}
		oi++
	}
	for ni < len(next) {
		op := doc.LocalInsert(pos, next[ni])
		ops = append(ops, op)
		pos++
		ni++
	}
	return ops
}

// runeLCS returns the longest common subsequence of a and b as a list
// of matched index pairs [indexInA, indexInB], in order. Used by
// DiffToOps to find the minimal edit between two materializations.
func runeLCS(a, b []rune) [][2]int {
	n, m := len(a), len(b)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}
	var pairs [][2]int
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			pairs = append(pairs, [2]int{i, j})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}
	return pairs
}

// Ops returns a sorted snapshot of every element the document has ever
// seen, visible or tombstoned, for debugging and test assertions.
func (d *Doc) Ops() []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Op, 0, len(d.seq))
	for _, e := range d.seq {
		out = append(out, Op{Kind: OpInsert, ID: e.id, After: e.after, Value: e.value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}
